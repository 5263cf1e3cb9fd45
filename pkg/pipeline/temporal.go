package pipeline

import (
	"time"
	_ "time/tzdata"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"voicenote-processor/pkg/models"
)

const dateLayout = "2006-01-02"

// TemporalContext fixes "now" for one run so that the model never has to do
// date arithmetic itself.
type TemporalContext struct {
	Now         time.Time
	Timezone    string
	Today       string
	Tomorrow    string
	NextWeek    string
	Weekday     string
	CurrentTime string

	LanguageCode       string
	LanguageName       string
	LanguageNativeName string
}

func NewTemporalContext(now time.Time, profile models.UserProfile) TemporalContext {
	loc, tz := resolveLocation(profile.Timezone)
	local := now.In(loc)

	tag, err := language.Parse(profile.Language)
	if err != nil || profile.Language == "" {
		tag = language.English
	}
	base, _ := tag.Base()
	name := display.English.Languages().Name(tag)
	if name == "" {
		name = "English"
	}
	native := display.Self.Name(tag)
	if native == "" {
		native = name
	}

	return TemporalContext{
		Now:                local,
		Timezone:           tz,
		Today:              local.Format(dateLayout),
		Tomorrow:           local.AddDate(0, 0, 1).Format(dateLayout),
		NextWeek:           local.AddDate(0, 0, 7).Format(dateLayout),
		Weekday:            local.Weekday().String(),
		CurrentTime:        local.Format("15:04"),
		LanguageCode:       base.String(),
		LanguageName:       name,
		LanguageNativeName: native,
	}
}

func resolveLocation(name string) (*time.Location, string) {
	if name == "" {
		return time.UTC, "UTC"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, "UTC"
	}
	return loc, name
}
