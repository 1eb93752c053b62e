// Package testsupport provides shared fixtures for package tests: a scripted
// automation client, a temp-dir SQLite store and sample profiles.
package testsupport

import "dirsubmit/internal/core/model"

// SampleProfile returns a fully populated business profile.
func SampleProfile() model.BusinessProfile {
	return model.BusinessProfile{
		CompanyName:         "Bean There Coffee",
		Tagline:             "Roasted around the corner",
		WebsiteURL:          "https://www.beanthere.example",
		Email:               "hello@beanthere.example",
		Phone:               "+1 503 555 0100",
		Password:            "s3cret-pass",
		BusinessDescription: "Small-batch coffee roastery and espresso bar.",
		SocialMediaLinks: map[string]string{
			"facebook":  "https://facebook.com/beanthere",
			"instagram": "https://instagram.com/beanthere",
		},
		FounderName:      "Dana Reyes",
		BusinessCategory: "Food",
		Keywords:         []string{"coffee", "roastery", "espresso"},
		Address:          "12 Alder St",
		Location: model.Location{
			City:    "Portland",
			State:   "Oregon",
			Country: "USA",
			Zip:     "97201",
		},
	}
}
