package event

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys for status updates. The recursive phases take the pass
// number as their only argument.
const (
	MsgBasicXlink         = "import.dialog.basicXLink.msg"
	MsgGroupXlink         = "import.dialog.groupXLink.msg"
	MsgAppearanceXlink    = "import.dialog.appXlink.msg"
	MsgTextureImage       = "import.dialog.texImg.msg"
	MsgLibraryObject      = "import.dialog.libObj.msg"
	MsgDeprecatedMaterial = "import.dialog.depMat.msg"
	MsgGeometryXlink      = "import.dialog.geomXLink.msg"
)

var supported = []language.Tag{language.English, language.German}

var texts = map[language.Tag]map[string]string{
	language.English: {
		MsgBasicXlink:         "Resolving feature XLinks...",
		MsgGroupXlink:         "Resolving CityObjectGroup XLinks (pass %d)...",
		MsgAppearanceXlink:    "Resolving appearance XLinks...",
		MsgTextureImage:       "Importing texture images...",
		MsgLibraryObject:      "Importing library objects...",
		MsgDeprecatedMaterial: "Resolving TexturedSurface XLinks...",
		MsgGeometryXlink:      "Resolving geometry XLinks (pass %d)...",
	},
	language.German: {
		MsgBasicXlink:         "Auflösen von Feature-XLinks...",
		MsgGroupXlink:         "Auflösen von CityObjectGroup-XLinks (Durchlauf %d)...",
		MsgAppearanceXlink:    "Auflösen von Appearance-XLinks...",
		MsgTextureImage:       "Importieren von Texturbildern...",
		MsgLibraryObject:      "Importieren von Bibliotheksobjekten...",
		MsgDeprecatedMaterial: "Auflösen von TexturedSurface-XLinks...",
		MsgGeometryXlink:      "Auflösen von Geometrie-XLinks (Durchlauf %d)...",
	},
}

var builtin = func() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, msgs := range texts {
		for key, msg := range msgs {
			if err := b.SetString(tag, key, msg); err != nil {
				panic(err)
			}
		}
	}
	return b
}()

// Messages renders localized status texts.
type Messages struct {
	tag language.Tag
	p   *message.Printer
}

// NewMessages returns a renderer for the given BCP 47 locale. Unknown or
// unsupported locales fall back to English.
func NewMessages(locale string) *Messages {
	tag := language.English
	if parsed, err := language.Parse(locale); err == nil {
		_, idx, conf := language.NewMatcher(supported).Match(parsed)
		if conf != language.No {
			tag = supported[idx]
		}
	}
	return &Messages{tag: tag, p: message.NewPrinter(tag, message.Catalog(builtin))}
}

// Language returns the tag messages are rendered in.
func (m *Messages) Language() language.Tag { return m.tag }

// Text renders the message for key.
func (m *Messages) Text(key string, args ...any) string {
	return m.p.Sprintf(key, args...)
}
