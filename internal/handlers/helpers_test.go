package handlers_test

import "github.com/charlesng35/otpauth/internal/services"

func servicesIdentifier(email, phone string) services.Identifier {
	return services.NewIdentifier(email, phone)
}
