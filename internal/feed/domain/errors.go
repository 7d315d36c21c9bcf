package domain

import "errors"

var (
	// ErrSchemaValidation marks a strict-schema rejection. It only surfaces in
	// logs; the facade recovers from it by running the fallback parser.
	ErrSchemaValidation = errors.New("lead document failed schema validation")
	// ErrUnparsableDocument marks input that is not XML or has no recognizable root.
	ErrUnparsableDocument = errors.New("lead document is not parsable")
	// ErrMinimalFieldsMissing marks a document lacking a customer name or any contact channel.
	ErrMinimalFieldsMissing = errors.New("lead document is missing minimal fields")
	// ErrDuplicateLead is returned by the lead sink for a repeated externalId+dealershipRef.
	ErrDuplicateLead = errors.New("lead already ingested")
)
