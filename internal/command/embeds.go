package command

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"chartbot/internal/jobs"
	"chartbot/internal/transport"
)

const (
	colorRed        = 0xF44336
	colorGray       = 0x9E9E9E
	colorPurple     = 0x9C27B0
	colorDeepPurple = 0x673AB7
	colorLightBlue  = 0x03A9F4
)

func previewMessage(p Preview) transport.Message {
	return transport.Message{Embed: &transport.Embed{
		Title: p.Caption,
		Image: p.ImageURL,
		Color: colorDeepPurple,
	}}
}

// CreatedMessage is the confirmation shown after a job is persisted.
func CreatedMessage(periodLabel string, start time.Time) transport.Message {
	return transport.Message{Embed: &transport.Embed{
		Title: "Scheduled post has been created.",
		Description: fmt.Sprintf("The scheduled chart will be posted every `%s` in this channel, starting at `%s`.",
			periodLabel, start.UTC().Format(StartLayout)),
		Color:    colorPurple,
		Subtitle: "Chart scheduled",
	}}
}

// ListingMessage renders one persisted job for the list view.
func ListingMessage(l Listing) transport.Message {
	return transport.Message{Embed: &transport.Embed{
		Title: fmt.Sprintf("Post a %s every %s starting at %s UTC.",
			l.Job.Command, l.PeriodLabel, l.Next.UTC().Format("02/01/2006 15:04")),
		Description: fmt.Sprintf("Request: `%s`\nChannel: <#%s>\nScheduled by <@%s>",
			strings.Join(l.Job.Arguments, " "), l.Job.ChannelID, l.Job.AuthorID),
		Color: colorDeepPurple,
	}}
}

// ErrorMessage maps a Create failure to its user-facing embed. Unknown
// errors get the generic failure embed.
func ErrorMessage(err error) transport.Message {
	switch {
	case errors.Is(err, ErrPermission):
		return embed("Permission denied",
			"You do not have the sufficient permission to create a scheduled post.",
			"To be able to create a scheduled post, you must have the `manage messages` permission.",
			colorRed)
	case errors.Is(err, jobs.ErrCapacity):
		return embed("Maximum number of scheduled posts reached",
			fmt.Sprintf("You can only create up to %d scheduled posts per community. Remove some before creating new ones.", jobs.MaxPerGuild),
			"", colorRed)
	case errors.Is(err, ErrTooManyRequests):
		return embed("Too many requests",
			"Only one request is allowed to be scheduled at once.", "", colorGray)
	case errors.Is(err, ErrInvalidPeriod), errors.Is(err, jobs.ErrInvalidPeriod):
		return embed("Invalid period",
			"The provided period is not valid. Please pick one of the available periods.", "", colorGray)
	case errors.Is(err, ErrInvalidStart):
		return embed("Invalid start time",
			"The provided start date is not valid. Please provide a valid date and time.", "", colorGray)
	case errors.Is(err, ErrEntitlement):
		return embed("",
			":gem: Scheduled Posting functionality is available as an add-on subscription for communities.",
			"Enable the add-on in the community dashboard to start scheduling posts.",
			colorDeepPurple)
	case errors.Is(err, ErrBranding):
		return embed("Terms of service",
			"This community was flagged for re-branding the bot and is therefore violating the Terms of Service.",
			"Scheduling stays disabled until the branding review is resolved.",
			0x000000)
	default:
		return FailureMessage()
	}
}

// FailureMessage is the generic embed for unexpected errors.
func FailureMessage() transport.Message {
	return embed("Something went wrong",
		"Looks like something went wrong. The issue has been reported.", "", colorGray)
}

func embed(subtitle, title, description string, color int) transport.Message {
	return transport.Message{Embed: &transport.Embed{
		Title:       title,
		Description: description,
		Subtitle:    subtitle,
		Color:       color,
	}}
}
