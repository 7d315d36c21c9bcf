package schema

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const conformingDoc = `<adfLead version="1.0">
  <customer><name>Jane Doe</name><email>jane@example.com</email></customer>
  <vehicleInterest make="Honda" model="Civic" year="2024"/>
  <source provider="autotrader" externalId="AT-1001"/>
</adfLead>`

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	return NewValidator(NewCache(Embedded()))
}

func TestStrictAcceptsConformingDocument(t *testing.T) {
	v := newTestValidator(t)
	ok, errs := v.Validate([]byte(conformingDoc), "1.0", Strict)
	assert.True(t, ok, "errors: %+v", errs)
	assert.Empty(t, errs)
}

func TestStrictRejectsMissingVehicleInterest(t *testing.T) {
	v := newTestValidator(t)
	doc := `<adfLead version="1.0"><customer><name>Jane Doe</name><email>jane@x.com</email></customer>
<source externalId="X1"/></adfLead>`

	ok, errs := v.Validate([]byte(doc), "1.0", Strict)

	require.False(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, "adfLead.vehicleInterest", errs[0].Field)
}

func TestStrictRejectsUndeclaredButLenientAllows(t *testing.T) {
	v := newTestValidator(t)
	doc := `<adfLead version="1.0" channel="web">
  <customer><name>Jane Doe</name><email>jane@example.com</email><fax>1</fax></customer>
  <vehicleInterest make="Honda" year="2024"/>
  <source externalId="AT-1001"/>
  <tracking id="x"/>
</adfLead>`

	ok, errs := v.Validate([]byte(doc), "1.0", Strict)
	require.False(t, ok)
	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{"adfLead@channel", "adfLead.customer.fax", "adfLead.tracking"}, fields)

	ok, errs = v.Validate([]byte(doc), "1.0", Lenient)
	assert.True(t, ok, "errors: %+v", errs)
}

func TestLenientStillEnforcesRequiredFields(t *testing.T) {
	v := newTestValidator(t)
	doc := `<adfLead version="1.0"><customer><name></name></customer><vehicleInterest make="x"/><source externalId="1"/></adfLead>`

	ok, errs := v.Validate([]byte(doc), "1.0", Lenient)

	require.False(t, ok)
	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{"adfLead.customer.name", "adfLead.customer.email|phone"}, fields)
}

func TestStrictChecksFormats(t *testing.T) {
	v := newTestValidator(t)
	doc := `<adfLead version="1.0"><customer><name>J</name><email>not-an-email</email></customer>
<vehicleInterest make="Honda" year="24"/><source externalId="1"/></adfLead>`

	ok, errs := v.Validate([]byte(doc), "1.0", Strict)

	require.False(t, ok)
	assert.Len(t, errs, 2)
}

func TestUnknownVersionIsValidationFailure(t *testing.T) {
	v := newTestValidator(t)
	ok, errs := v.Validate([]byte(conformingDoc), "9.9", Strict)
	require.False(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, "@version", errs[0].Field)

	ok, errs = v.Validate([]byte(conformingDoc), "../../etc/passwd", Strict)
	require.False(t, ok)
	assert.Equal(t, "@version", errs[0].Field)
}

func TestMalformedXMLIsValidationFailure(t *testing.T) {
	v := newTestValidator(t)
	ok, errs := v.Validate([]byte(`<adfLead version="1.0"><customer>`), "1.0", Strict)
	require.False(t, ok)
	assert.Equal(t, "document", errs[0].Field)
}

func TestVersion11AllowsRepeatedVehicles(t *testing.T) {
	v := newTestValidator(t)
	doc := `<adfLead version="1.1"><customer><name>J</name><phone>+1 650 253 0000</phone></customer>
<vehicleInterest make="Honda"/><vehicleInterest make="Toyota" trim="LE"/><comments>call after 5</comments>
<source externalId="1"/></adfLead>`

	ok, errs := v.Validate([]byte(doc), "1.1", Strict)
	assert.True(t, ok, "errors: %+v", errs)

	ok, _ = v.Validate([]byte(doc), "1.0", Strict)
	assert.False(t, ok)
}

type countingSource struct {
	mu    sync.Mutex
	loads int
	inner Source
}

func (s *countingSource) Load(version string) ([]byte, error) {
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()
	return s.inner.Load(version)
}

func TestCacheCompilesOnceAndClearCacheSwaps(t *testing.T) {
	src := &countingSource{inner: Embedded()}
	cache := NewCache(src)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get("1.0")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	first, err := cache.Get("1.0")
	require.NoError(t, err)
	loads := src.loads
	_, err = cache.Get("1.0")
	require.NoError(t, err)
	assert.Equal(t, loads, src.loads, "cached schema must not be reloaded")
	assert.Equal(t, []string{"1.0"}, cache.Versions())

	cache.ClearCache()
	assert.Empty(t, cache.Versions())

	second, err := cache.Get("1.0")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestLayeredSourcePrefersOverride(t *testing.T) {
	override := NewFSSource(fstest.MapFS{
		"adf-1.0.yaml": {Data: []byte("schema_version: \"1.0\"\nroot:\n  name: adfLead\n")},
	})
	cache := NewCache(Layered{override, Embedded()})
	v := NewValidator(cache)

	ok, errs := v.Validate([]byte(`<adfLead/>`), "1.0", Lenient)
	assert.True(t, ok, "errors: %+v", errs)

	_, err := cache.Get("1.1")
	assert.NoError(t, err, "falls through to embedded definitions")
}

func TestCompileRejectsBadDefinitions(t *testing.T) {
	cases := map[string]string{
		"no version":     "root:\n  name: a\n",
		"unknown format": "schema_version: \"1\"\nroot:\n  name: a\n  format: zipcode\n",
		"bad any_of":     "schema_version: \"1\"\nroot:\n  name: a\n  any_of:\n    - [missing]\n",
		"not yaml":       "::::",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.True(t, errors.Is(err, ErrInvalidDefinition), "got %v", err)
		})
	}
}

func TestNewSourceUsesOverrideDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName("2.0")),
		[]byte("schema_version: \"2.0\"\nroot:\n  name: prospect\n"), 0o600))

	cache := NewCache(NewSource(dir))
	compiled, err := cache.Get("2.0")
	require.NoError(t, err)
	assert.Equal(t, "2.0", compiled.Version())

	_, err = cache.Get("1.0")
	assert.NoError(t, err)
}
