package skill

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// ContentHash returns a hex sha256 digest identifying one loaded version of a
// skill's content. Editing the text, changing the front-matter or reloading
// the skill all yield a new hash.
func ContentHash(content SkillContent) string {
	h := sha256.New()
	h.Write([]byte(content.Raw))
	h.Write([]byte{0})

	// encoding/json sorts map keys, so equal front-matter encodes equally
	if fm, err := json.Marshal(content.FrontMatter); err == nil {
		h.Write(fm)
	}
	h.Write([]byte{0})
	h.Write([]byte(content.LoadedAt.UTC().Format(time.RFC3339Nano)))

	return hex.EncodeToString(h.Sum(nil))
}

// FormatResult renders a skill result as text. Strings pass through; other
// values are encoded as JSON.
func FormatResult(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
