// Package parser turns raw lead documents into ParseResults: strict schema
// validation first, the lenient fallback parser second.
package parser

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"leadpipeline_backend/internal/feed/domain"
	"leadpipeline_backend/internal/feed/schema"
	"leadpipeline_backend/internal/feed/xmldoc"
	"leadpipeline_backend/platform/logger"
	"leadpipeline_backend/platform/metrics"
)

// SchemaValidator is the strict tier.
type SchemaValidator interface {
	Validate(doc []byte, version string, mode schema.Mode) (bool, []domain.ValidationError)
}

// recognizedRoots are the root element names (lower-cased, prefix stripped)
// that identify a lead document.
var recognizedRoots = map[string]bool{"adflead": true, "adf": true, "prospect": true}

// Config holds facade settings.
type Config struct {
	DefaultVersion string
	StrictMode     bool
	PhoneRegion    string
}

// Parser is the feed parser facade. It never returns an error or panics;
// every outcome is a ParseResult.
type Parser struct {
	validator  SchemaValidator
	normalizer Normalizer
	cfg        Config
	metrics    *metrics.Recorder
	log        *logger.Logger
}

// New creates a facade.
func New(validator SchemaValidator, cfg Config, rec *metrics.Recorder, log *logger.Logger) *Parser {
	if cfg.DefaultVersion == "" {
		cfg.DefaultVersion = "1.0"
	}
	return &Parser{
		validator:  validator,
		normalizer: NewNormalizer(cfg.PhoneRegion),
		cfg:        cfg,
		metrics:    rec,
		log:        log,
	}
}

// Parse runs strict validation and degrades to the fallback parser when it fails.
func (p *Parser) Parse(ctx context.Context, doc []byte, meta domain.DocumentMeta) (res domain.ParseResult) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("feed parser panicked", "panic", r, "dealershipRef", meta.DealershipRef)
			res = domain.Fail(domain.CodeUnparsableDocument, false,
				domain.NewError("document", fmt.Sprintf("parser failure: %v", r)))
		}
		p.record(ctx, meta, res)
	}()

	root, err := xmldoc.Root(doc)
	if err != nil {
		return domain.Fail(domain.CodeUnparsableDocument, false, domain.NewError("document", "not an XML document: "+err.Error()))
	}
	rootName := xmldoc.LocalName(root.Name)
	if !recognizedRoots[strings.ToLower(rootName)] {
		return domain.Fail(domain.CodeUnparsableDocument, false,
			domain.NewError("document", fmt.Sprintf("unrecognized root element <%s>", rootName)))
	}

	version := p.cfg.DefaultVersion
	for _, a := range root.Attr {
		if strings.EqualFold(a.Name.Local, "version") && strings.TrimSpace(a.Value) != "" {
			version = strings.TrimSpace(a.Value)
		}
	}

	mode := schema.Lenient
	if p.cfg.StrictMode {
		mode = schema.Strict
	}

	ok, verrs := p.validator.Validate(doc, version, mode)
	if ok {
		f := walk(doc)
		lead, warnings := p.normalizer.lead(f, meta)
		if lead.Customer.Name != "" && lead.Customer.HasContactChannel() && lead.ExternalID != "" {
			return domain.Succeed(lead, domain.ParserStrict, warnings...)
		}
		// A schema that validates without the minimal fields is a schema gap;
		// the fallback tier applies the minimal contract instead.
		verrs = append(verrs, domain.NewError("document", "schema accepted document without minimal lead fields"))
	}

	p.metrics.ValidationFailed(ctx, version)
	p.log.WithContext(ctx).Debug("strict validation failed, using fallback parser",
		"dealershipRef", meta.DealershipRef, "schemaVersion", version, "issues", len(verrs))

	return p.fallback(doc, meta, verrs)
}

// ParseLenient runs only the fallback tier.
func (p *Parser) ParseLenient(doc []byte) domain.ParseResult {
	return p.fallback(doc, domain.DocumentMeta{}, nil)
}

// ParseLenient runs the fallback tier with default normalization.
func ParseLenient(doc []byte) domain.ParseResult {
	return fallbackParse(NewNormalizer(""), doc, domain.DocumentMeta{}, nil)
}

func (p *Parser) fallback(doc []byte, meta domain.DocumentMeta, strictErrs []domain.ValidationError) domain.ParseResult {
	return fallbackParse(p.normalizer, doc, meta, strictErrs)
}

func fallbackParse(n Normalizer, doc []byte, meta domain.DocumentMeta, strictErrs []domain.ValidationError) domain.ParseResult {
	f := walk(doc)
	if !f.sawStart {
		return domain.Fail(domain.CodeUnparsableDocument, true, domain.NewError("document", "document contains no XML elements"))
	}

	lead, warnings := n.lead(f, meta)

	var missing []domain.ValidationError
	if lead.Customer.Name == "" {
		missing = append(missing, domain.NewError("customer.name", "customer name is required"))
	}
	if !lead.Customer.HasContactChannel() {
		missing = append(missing, domain.NewError("customer.contact", "at least one of email or phone is required"))
	}
	if len(missing) > 0 {
		return domain.Fail(domain.CodeMinimalFieldsMissing, true, missing...)
	}

	out := []domain.Warning{domain.NewWarning(domain.CodeFallbackParsingUsed, "", "document did not pass strict validation; parsed leniently")}
	if lead.ExternalID == "" {
		lead.ExternalID = DeriveExternalID(doc)
		out = append(out, domain.NewWarning(domain.CodeExternalIDDerived, "source.externalId", "no external id in document; derived from content"))
	}
	if f.truncated {
		out = append(out, domain.NewWarning("DOCUMENT_TRUNCATED", "document", "document is malformed; fields after the first syntax error were ignored"))
	}
	out = append(out, warnings...)
	for _, e := range strictErrs {
		out = append(out, domain.NewWarning(domain.CodeSchemaValidation, e.Field, e.Message))
	}

	return domain.Succeed(lead, domain.ParserFallback, slices.Clip(out)...)
}

func (p *Parser) record(ctx context.Context, meta domain.DocumentMeta, res domain.ParseResult) {
	parser := string(res.ParserUsed())
	issues := len(res.Warnings())
	if !res.OK() {
		parser = "none"
		if res.AttemptedFallback() {
			parser = string(domain.ParserFallback)
		}
		issues = len(res.Errors())
	}
	p.metrics.ParseCompleted(ctx, parser, res.OK())
	p.log.WithContext(ctx).ParseOutcome(meta.DealershipRef, parser, res.OK(), issues)
}
