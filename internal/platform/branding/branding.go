// Package branding centralizes user-facing product naming.
package branding

// AppName is the product name shown in relying-party prompts and templates.
const AppName = "Presence.Space"
