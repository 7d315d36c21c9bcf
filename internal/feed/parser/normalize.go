package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"leadpipeline_backend/internal/feed/domain"
	"leadpipeline_backend/platform/phone"
	"leadpipeline_backend/platform/sanitize"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Normalizer turns collected fields into a ParsedLead.
type Normalizer struct {
	phones phone.Normalizer
	title  cases.Caser
}

// NewNormalizer creates a normalizer using region for numbers without a country code.
func NewNormalizer(region string) Normalizer {
	return Normalizer{
		phones: phone.NewNormalizer(region),
		title:  cases.Title(language.Und),
	}
}

// personName title-cases names that arrive in a single case and leaves mixed
// case alone so "McDonald" survives.
func (n Normalizer) personName(raw string) string {
	clean := sanitize.Text(raw)
	if clean == strings.ToUpper(clean) || clean == strings.ToLower(clean) {
		return n.title.String(clean)
	}
	return clean
}

func (n Normalizer) lead(f fields, meta domain.DocumentMeta) (domain.ParsedLead, []domain.Warning) {
	var warnings []domain.Warning

	customer := domain.Customer{
		Name:      n.personName(f.name()),
		FirstName: n.personName(f.firstName),
		LastName:  n.personName(f.lastName),
		Email:     strings.ToLower(sanitize.Text(f.email)),
	}
	if f.phone != "" {
		customer.Phone = n.phones.NormalizeE164(sanitize.Text(f.phone))
	}

	lead := domain.ParsedLead{
		ExternalID:     sanitize.Text(f.externalID),
		Customer:       customer,
		DealershipRef:  meta.DealershipRef,
		SourceProvider: firstNonEmpty(sanitize.Text(f.provider), meta.SourceProvider),
		RawPayloadRef:  meta.RawPayloadRef,
	}

	vehicle := domain.VehicleInterest{
		Make:  n.title.String(sanitize.Text(f.make)),
		Model: sanitize.Text(f.model),
	}
	if f.year != "" {
		year, err := strconv.Atoi(strings.TrimSpace(f.year))
		if err != nil || year < 1900 || year > 2100 {
			warnings = append(warnings, domain.NewWarning("VEHICLE_YEAR_IGNORED", "vehicleInterest.year", "unrecognized year "+strconv.Quote(f.year)))
		} else {
			vehicle.Year = year
		}
	}
	if !vehicle.IsZero() {
		lead.VehicleInterest = &vehicle
	}

	return lead, warnings
}

// DeriveExternalID builds a stable id from the document bytes for feeds that omit one.
func DeriveExternalID(doc []byte) string {
	sum := sha256.Sum256(doc)
	return "derived-" + hex.EncodeToString(sum[:12])
}
