package main

import "github.com/charlesng35/otpauth/internal/services"

func servicesIdentifier(email string) services.Identifier {
	return services.NewIdentifier(email, "")
}

func strPtr(s string) *string { return &s }
