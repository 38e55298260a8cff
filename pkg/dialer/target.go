package dialer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidTarget возвращается для адресата, которому нельзя позвонить.
var ErrInvalidTarget = errors.New("некорректный адресат")

var (
	e164Re      = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)
	extensionRe = regexp.MustCompile(`^[0-9*#wW,]+$`)
	phoneStrip  = strings.NewReplacer("-", "", " ", "", "(", "", ")", "", ".", "")
)

// Target адресат перевода: специалист или группа.
type Target struct {
	Name        string `json:"name" yaml:"name"`
	Address     string `json:"phone_number" yaml:"phone_number"` // E.164 номер или SIP URI
	Extension   string `json:"extension,omitempty" yaml:"extension,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// IsSIP сообщает, задан ли адрес как SIP URI
func (t Target) IsSIP() bool {
	a := strings.ToLower(strings.TrimSpace(t.Address))
	return strings.HasPrefix(a, "sip:") || strings.HasPrefix(a, "sips:")
}

// NormalizedAddress возвращает адрес без разделителей в номере
func (t Target) NormalizedAddress() string {
	a := strings.TrimSpace(t.Address)
	if t.IsSIP() {
		return a
	}
	return phoneStrip.Replace(a)
}

// Validate проверяет имя, адрес и добавочный номер
func (t Target) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: пустое имя", ErrInvalidTarget)
	}
	addr := t.NormalizedAddress()
	switch {
	case addr == "":
		return fmt.Errorf("%w: %q: пустой адрес", ErrInvalidTarget, t.Name)
	case t.IsSIP():
		_, rest, _ := strings.Cut(addr, ":")
		if rest == "" || strings.HasPrefix(rest, "@") || strings.HasSuffix(rest, "@") || strings.ContainsAny(rest, " <>") {
			return fmt.Errorf("%w: %q: некорректный SIP URI %q", ErrInvalidTarget, t.Name, t.Address)
		}
	case !e164Re.MatchString(addr):
		return fmt.Errorf("%w: %q: номер %q не в формате E.164", ErrInvalidTarget, t.Name, t.Address)
	}
	if t.Extension != "" && !extensionRe.MatchString(t.Extension) {
		return fmt.Errorf("%w: %q: некорректный добавочный %q", ErrInvalidTarget, t.Name, t.Extension)
	}
	return nil
}

func (t Target) String() string {
	if t.Extension != "" {
		return fmt.Sprintf("%s <%s ext %s>", t.Name, t.NormalizedAddress(), t.Extension)
	}
	return fmt.Sprintf("%s <%s>", t.Name, t.NormalizedAddress())
}
