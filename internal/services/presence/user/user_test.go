package user

import (
	"errors"
	"testing"
	"time"
)

func TestCreateUser(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	created, err := CreateUser(CreateUserInput{Email: " Alice@Example.COM ", Password: "hunter2"},
		func() time.Time { return fixed },
		func() (string, error) { return "user-1", nil },
	)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.ID != "user-1" {
		t.Fatalf("id = %q, want %q", created.ID, "user-1")
	}
	if created.Email != "alice@example.com" {
		t.Fatalf("email = %q, want normalized lowercase", created.Email)
	}
	if created.PasswordHash == "" || created.PasswordHash == "hunter2" {
		t.Fatal("expected a hashed password, not empty or plaintext")
	}
	if !created.CreatedAt.Equal(fixed) || !created.UpdatedAt.Equal(fixed) {
		t.Fatal("expected timestamps from the injected clock")
	}
	if !created.CheckPassword("hunter2") {
		t.Fatal("expected password to verify against its hash")
	}
	if created.CheckPassword("wrong") {
		t.Fatal("expected wrong password to fail verification")
	}
}

func TestCreateUserValidation(t *testing.T) {
	cases := []struct {
		name  string
		input CreateUserInput
		want  error
	}{
		{"empty email", CreateUserInput{Password: "x"}, ErrEmptyEmail},
		{"invalid email", CreateUserInput{Email: "not-an-email", Password: "x"}, ErrInvalidEmail},
		{"missing at", CreateUserInput{Email: "a.example.com", Password: "x"}, ErrInvalidEmail},
		{"empty password", CreateUserInput{Email: "a@example.com"}, ErrEmptyPassword},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CreateUser(tc.input, nil, nil)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestValidateEmail(t *testing.T) {
	if err := ValidateEmail("worker@plant.example.org"); err != nil {
		t.Fatalf("expected valid email, got %v", err)
	}
	if err := ValidateEmail("worker@plant"); err == nil {
		t.Fatal("expected error for missing top-level domain")
	}
}
