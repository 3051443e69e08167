package middleware

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// Supported user-facing languages.
var supportedLanguages = map[string]bool{"en": true, "de": true}

// newBundle registers the user-facing messages in code; there are few enough
// that locale files would be overhead.
func newBundle() *i18n.Bundle {
	bundle := i18n.NewBundle(language.English)

	bundle.AddMessages(language.English,
		&i18n.Message{ID: "error.no_enrolled_users", Other: "no enrolled users"},
		&i18n.Message{ID: "error.duplicate_identity", Other: "this face is already enrolled as {{.Name}}"},
		&i18n.Message{ID: "error.name_conflict", Other: "the name {{.Name}} is already taken"},
		&i18n.Message{ID: "error.session_active", Other: "a capture session is already running"},
		&i18n.Message{ID: "error.no_active_session", Other: "no capture session is running"},
		&i18n.Message{ID: "error.camera_unavailable", Other: "camera unavailable"},
		&i18n.Message{ID: "error.invalid_password", Other: "invalid password"},
	)
	bundle.AddMessages(language.German,
		&i18n.Message{ID: "error.no_enrolled_users", Other: "keine registrierten Benutzer"},
		&i18n.Message{ID: "error.duplicate_identity", Other: "dieses Gesicht ist bereits als {{.Name}} registriert"},
		&i18n.Message{ID: "error.name_conflict", Other: "der Name {{.Name}} ist bereits vergeben"},
		&i18n.Message{ID: "error.session_active", Other: "eine Aufnahmesitzung läuft bereits"},
		&i18n.Message{ID: "error.no_active_session", Other: "keine Aufnahmesitzung aktiv"},
		&i18n.Message{ID: "error.camera_unavailable", Other: "Kamera nicht verfügbar"},
		&i18n.Message{ID: "error.invalid_password", Other: "ungültiges Passwort"},
	)

	return bundle
}

// I18n resolves the request language from the `lang` query parameter (stored
// in the cookie session) or the Accept-Language header, and attaches a
// localizer to the context.
func I18n(defaultLanguage string) gin.HandlerFunc {
	if !supportedLanguages[defaultLanguage] {
		defaultLanguage = "en"
	}
	bundle := newBundle()

	return func(c *gin.Context) {
		session := sessions.Default(c)
		lang := c.Query("lang")

		if supportedLanguages[lang] {
			session.Set("language", lang)
			session.Save()
		} else {
			lang = ""
			if stored, ok := session.Get("language").(string); ok && supportedLanguages[stored] {
				lang = stored
			}
		}
		if lang == "" {
			lang = defaultLanguage
		}

		c.Set("language", lang)
		c.Set("localizer", i18n.NewLocalizer(bundle, lang, c.GetHeader("Accept-Language"), defaultLanguage))

		c.Next()
	}
}

// T translates a message ID for the current request, falling back to the ID
// itself when no translation exists.
func T(c *gin.Context, messageID string, data map[string]interface{}) string {
	value, ok := c.Get("localizer")
	if !ok {
		return messageID
	}
	localizer, ok := value.(*i18n.Localizer)
	if !ok {
		return messageID
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID
	}
	return msg
}
