package command

import "errors"

var (
	// ErrTooManyRequests rejects comma-separated multi-ticker arguments; a
	// scheduled post carries exactly one request.
	ErrTooManyRequests = errors.New("command: only one request may be scheduled at once")
	// ErrInvalidPeriod rejects periods outside the catalog.
	ErrInvalidPeriod = errors.New("command: period is not one of the available periods")
	// ErrInvalidStart rejects start times that do not parse.
	ErrInvalidStart = errors.New("command: start time is not a valid date")
	// ErrPermission rejects authors without the manage-messages permission.
	ErrPermission = errors.New("command: manage messages permission required")
	// ErrEntitlement rejects guilds without the scheduled-posting add-on.
	ErrEntitlement = errors.New("command: scheduled posting add-on not enabled")
	// ErrBranding rejects guilds flagged for unauthorized re-branding.
	ErrBranding = errors.New("command: guild is flagged for re-branding")
	// ErrCancelled reports that the author discarded the preview.
	ErrCancelled = errors.New("command: cancelled at confirmation")
)
