package parser

import (
	"context"
	"strings"
	"testing"

	"leadpipeline_backend/internal/feed/domain"
	"leadpipeline_backend/internal/feed/schema"
	"leadpipeline_backend/platform/logger"
	"leadpipeline_backend/platform/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMeta = domain.DocumentMeta{DealershipRef: "dealer-42", SourceProvider: "email", RawPayloadRef: "raw/abc.xml"}

func newTestParser(strict bool) *Parser {
	v := schema.NewValidator(schema.NewCache(schema.Embedded()))
	return New(v, Config{DefaultVersion: "1.0", StrictMode: strict, PhoneRegion: "US"}, metrics.Noop(), logger.Discard())
}

func TestStrictDocumentNormalized(t *testing.T) {
	doc := `<adfLead version="1.0">
  <customer><name>jane doe</name><email>Jane@Example.COM</email><phone>(650) 253-0000</phone></customer>
  <vehicleInterest make="honda" model="Civic" year="2024"/>
  <source provider="autotrader" externalId="AT-1001"/>
</adfLead>`

	res := newTestParser(true).Parse(context.Background(), []byte(doc), testMeta)

	require.True(t, res.OK(), "errors: %+v", res.Errors())
	assert.Equal(t, domain.ParserStrict, res.ParserUsed())
	assert.Empty(t, res.Warnings())
	lead, _ := res.Lead()
	assert.Equal(t, "AT-1001", lead.ExternalID)
	assert.Equal(t, "Jane Doe", lead.Customer.Name)
	assert.Equal(t, "jane@example.com", lead.Customer.Email)
	assert.Equal(t, "+16502530000", lead.Customer.Phone)
	require.NotNil(t, lead.VehicleInterest)
	assert.Equal(t, domain.VehicleInterest{Make: "Honda", Model: "Civic", Year: 2024}, *lead.VehicleInterest)
	assert.Equal(t, "autotrader", lead.SourceProvider)
	assert.Equal(t, "dealer-42", lead.DealershipRef)
	assert.Equal(t, "raw/abc.xml", lead.RawPayloadRef)
}

func TestMissingVehicleInterestFallsBack(t *testing.T) {
	doc := `<adfLead version="1.0"><customer><name>Jane Doe</name><email>jane@x.com</email></customer></adfLead>`

	res := newTestParser(true).Parse(context.Background(), []byte(doc), testMeta)

	require.True(t, res.OK(), "errors: %+v", res.Errors())
	assert.Equal(t, domain.ParserFallback, res.ParserUsed())
	assert.True(t, res.HasWarning(domain.CodeFallbackParsingUsed))
	assert.True(t, res.HasWarning(domain.CodeSchemaValidation), "strict errors kept as warnings")
	lead, _ := res.Lead()
	assert.Nil(t, lead.VehicleInterest)
	assert.Equal(t, "Jane Doe", lead.Customer.Name)
	assert.True(t, strings.HasPrefix(lead.ExternalID, "derived-"))
	assert.True(t, res.HasWarning(domain.CodeExternalIDDerived))
}

func TestFallbackDegradationForNonConformingDocuments(t *testing.T) {
	docs := map[string]string{
		"unknown element": `<adfLead version="1.0"><customer><name>A B</name><email>a@b.co</email></customer>
<vehicleInterest make="Kia"/><source externalId="1"/><utm campaign="x"/></adfLead>`,
		"namespaced": `<l:adfLead xmlns:l="urn:lead" version="1.0"><l:customer><l:name>A B</l:name><l:phone>6502530000</l:phone></l:customer></l:adfLead>`,
		"unsupported version": `<adfLead version="7.3"><customer><name>A B</name><email>a@b.co</email></customer>
<vehicleInterest make="Kia"/><source externalId="1"/></adfLead>`,
		"split name": `<adfLead version="1.0"><customer><name part="first">A</name><name part="last">B</name><phone>6502530000</phone></customer></adfLead>`,
		"bad year": `<adfLead version="1.0"><customer><name>A B</name><email>a@b.co</email></customer>
<vehicleInterest make="Kia" year="soon"/><source externalId="1"/></adfLead>`,
	}

	p := newTestParser(true)
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			res := p.Parse(context.Background(), []byte(doc), testMeta)
			require.True(t, res.OK(), "errors: %+v", res.Errors())
			assert.Equal(t, domain.ParserFallback, res.ParserUsed())
			assert.True(t, res.HasWarning(domain.CodeFallbackParsingUsed))
			lead, _ := res.Lead()
			assert.Equal(t, "A B", lead.Customer.Name)
			assert.True(t, lead.Customer.HasContactChannel())
		})
	}
}

func TestMinimalFieldsMissingIsHardFailure(t *testing.T) {
	docs := []string{
		`<adfLead version="1.0"><customer></customer><vehicleInterest make="Kia"/></adfLead>`,
		`<adfLead version="1.0"><customer><name>Only Name</name></customer></adfLead>`,
		`<adfLead version="1.0"><customer><email>only@mail.com</email></customer></adfLead>`,
	}
	p := newTestParser(true)
	for _, doc := range docs {
		res := p.Parse(context.Background(), []byte(doc), testMeta)
		require.False(t, res.OK())
		assert.True(t, res.AttemptedFallback())
		assert.Equal(t, domain.CodeMinimalFieldsMissing, res.Code())
		assert.ErrorIs(t, res.Err(), domain.ErrMinimalFieldsMissing)
	}
}

func TestUnrecognizedRootSkipsFallback(t *testing.T) {
	p := newTestParser(true)
	cases := map[string]string{
		"plain text":   "Dear dealer, please call Jane at jane@x.com",
		"html":         `<html><body><name>Jane</name><email>jane@x.com</email></body></html>`,
		"empty":        "",
		"binary noise": "\x00\x01\x02\x03",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			res := p.Parse(context.Background(), []byte(doc), testMeta)
			require.False(t, res.OK())
			assert.False(t, res.AttemptedFallback())
			assert.Equal(t, domain.CodeUnparsableDocument, res.Code())
			assert.ErrorIs(t, res.Err(), domain.ErrUnparsableDocument)
		})
	}
}

func TestTruncatedDocumentKeepsCollectedFields(t *testing.T) {
	doc := `<adfLead version="1.0"><customer><name>Jane Doe</name><email>jane@x.com`

	res := newTestParser(true).Parse(context.Background(), []byte(doc), testMeta)

	require.True(t, res.OK(), "errors: %+v", res.Errors())
	assert.True(t, res.HasWarning("DOCUMENT_TRUNCATED"))
	lead, _ := res.Lead()
	assert.Equal(t, "jane@x.com", lead.Customer.Email)
}

func TestStandardADFProspect(t *testing.T) {
	doc := `<?xml version="1.0"?>
<?adf version="1.0"?>
<adf>
  <prospect>
    <id sequence="1" source="eLeads">123456</id>
    <vehicle interest="buy" status="new"><year>2024</year><make>honda</make><model>Civic</model></vehicle>
    <customer>
      <contact>
        <name part="first">JOHN</name>
        <name part="last">SMITH</name>
        <email>JOHN@EXAMPLE.COM</email>
        <phone type="voice">650-253-0000</phone>
      </contact>
    </customer>
    <vendor><contact><name part="full">Dealer Desk</name><email>desk@dealer.com</email></contact></vendor>
  </prospect>
</adf>`

	res := newTestParser(true).Parse(context.Background(), []byte(doc), testMeta)

	require.True(t, res.OK(), "errors: %+v", res.Errors())
	lead, _ := res.Lead()
	assert.Equal(t, "John Smith", lead.Customer.Name)
	assert.Equal(t, "John", lead.Customer.FirstName)
	assert.Equal(t, "john@example.com", lead.Customer.Email)
	assert.Equal(t, "+16502530000", lead.Customer.Phone)
	assert.Equal(t, "123456", lead.ExternalID)
	assert.Equal(t, "eLeads", lead.SourceProvider)
	require.NotNil(t, lead.VehicleInterest)
	assert.Equal(t, domain.VehicleInterest{Make: "Honda", Model: "Civic", Year: 2024}, *lead.VehicleInterest)
}

func TestLenientModeAcceptsUndeclaredElements(t *testing.T) {
	doc := `<adfLead version="1.0"><customer><name>A B</name><email>a@b.co</email><fax>1</fax></customer>
<vehicleInterest make="Kia"/><source externalId="1"/></adfLead>`

	res := newTestParser(false).Parse(context.Background(), []byte(doc), testMeta)

	require.True(t, res.OK())
	assert.Equal(t, domain.ParserStrict, res.ParserUsed())
}

func TestPackageParseLenient(t *testing.T) {
	res := ParseLenient([]byte(`<prospect><customer><name>x y</name><phone>+44 20 7031 3000</phone></customer></prospect>`))
	require.True(t, res.OK())
	lead, _ := res.Lead()
	assert.Equal(t, "X Y", lead.Customer.Name)
	assert.Equal(t, "+442070313000", lead.Customer.Phone)

	res = ParseLenient([]byte("   "))
	assert.Equal(t, domain.CodeUnparsableDocument, res.Code())
	assert.True(t, res.AttemptedFallback())
}

func TestDerivedExternalIDIsStable(t *testing.T) {
	doc := []byte(`<adfLead><customer><name>A</name><email>a@b.co</email></customer></adfLead>`)
	assert.Equal(t, DeriveExternalID(doc), DeriveExternalID(doc))
	assert.NotEqual(t, DeriveExternalID(doc), DeriveExternalID(append(doc, ' ')))
}
