package charms

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/RiemaLabs/charms-indexer/internal/cborx"
)

// Well-known app tags.
const (
	TOKEN rune = 't'
	NFT   rune = 'n'
)

// App identifies a contract: a one-character tag, the UTXO anchoring the
// app's creation and the hash of its verification key (the app binary).
type App struct {
	Tag      rune
	Identity UtxoId
	VK       B32
}

func (a App) String() string {
	return fmt.Sprintf("%c/%s/%s", a.Tag, a.Identity, a.VK)
}

// ParseApp parses "tag/txid:index/vk".
func ParseApp(s string) (App, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return App{}, fmt.Errorf("expected format tag/identity/vk, got %q", s)
	}
	tag, size := utf8.DecodeRuneInString(parts[0])
	if tag == utf8.RuneError || size != len(parts[0]) {
		return App{}, fmt.Errorf("app tag must be a single character, got %q", parts[0])
	}
	identity, err := ParseUtxoId(parts[1])
	if err != nil {
		return App{}, fmt.Errorf("invalid identity in %q: %w", s, err)
	}
	vk, err := ParseB32(parts[2])
	if err != nil {
		return App{}, fmt.Errorf("invalid vk in %q: %w", s, err)
	}
	return App{Tag: tag, Identity: identity, VK: vk}, nil
}

// Compare orders apps by tag, then identity, then vk.
func (a App) Compare(o App) int {
	switch {
	case a.Tag < o.Tag:
		return -1
	case a.Tag > o.Tag:
		return 1
	}
	if c := a.Identity.Compare(o.Identity); c != 0 {
		return c
	}
	return a.VK.Compare(o.VK)
}

type appWire struct {
	_        struct{} `cbor:",toarray"`
	Tag      string
	Identity UtxoId
	VK       B32
}

func (a App) MarshalCBOR() ([]byte, error) {
	return cborx.Marshal(appWire{Tag: string(a.Tag), Identity: a.Identity, VK: a.VK})
}

func (a *App) UnmarshalCBOR(data []byte) error {
	var w appWire
	if err := cborx.Unmarshal(data, &w); err != nil {
		return err
	}
	tag, size := utf8.DecodeRuneInString(w.Tag)
	if tag == utf8.RuneError || size != len(w.Tag) {
		return fmt.Errorf("app tag must be a single character, got %q", w.Tag)
	}
	*a = App{Tag: tag, Identity: w.Identity, VK: w.VK}
	return nil
}

func (a App) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *App) UnmarshalText(text []byte) error {
	app, err := ParseApp(string(text))
	if err != nil {
		return err
	}
	*a = app
	return nil
}
