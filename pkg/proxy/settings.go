package proxy

import (
	"strings"

	"github.com/drawbridge-mc/drawbridge/pkg/proto"
	"github.com/drawbridge-mc/drawbridge/pkg/proto/codec"
	"golang.org/x/text/language"
)

// clientSettings is the last CLIENT_SETTINGS snapshot from the client. The
// wire layout changed twice in the supported range, so the struct is a
// superset: difficulty/showCape exist only before 1.8, skin parts from 1.8
// on and main hand from 1.9 on.
type clientSettings struct {
	locale             string
	viewDistance       int8
	chatMode           int32 // chat flags before 1.8
	chatColors         bool
	difficulty         int8
	showCape           bool
	displayedSkinParts byte
	mainHand           int32
}

func readClientSettings(r *codec.Reader, version proto.Protocol) (*clientSettings, error) {
	s := &clientSettings{}
	var err error
	if s.locale, err = r.ReadString(); err != nil {
		return nil, err
	}
	if s.viewDistance, err = r.ReadByte(); err != nil {
		return nil, err
	}

	switch {
	case version.Lower(proto.Minecraft_1_8):
		var flags int8
		if flags, err = r.ReadByte(); err != nil {
			return nil, err
		}
		s.chatMode = int32(flags)
		if s.chatColors, err = r.ReadBool(); err != nil {
			return nil, err
		}
		if s.difficulty, err = r.ReadByte(); err != nil {
			return nil, err
		}
		if s.showCape, err = r.ReadBool(); err != nil {
			return nil, err
		}

	case version.Lower(proto.Minecraft_1_9):
		var mode int8
		if mode, err = r.ReadByte(); err != nil {
			return nil, err
		}
		s.chatMode = int32(mode)
		if s.chatColors, err = r.ReadBool(); err != nil {
			return nil, err
		}
		if s.displayedSkinParts, err = r.ReadUByte(); err != nil {
			return nil, err
		}

	default:
		if s.chatMode, err = r.ReadVarInt(); err != nil {
			return nil, err
		}
		if s.chatColors, err = r.ReadBool(); err != nil {
			return nil, err
		}
		if s.displayedSkinParts, err = r.ReadUByte(); err != nil {
			return nil, err
		}
		if s.mainHand, err = r.ReadVarInt(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// encode renders the snapshot as a server-bound CLIENT_SETTINGS body for the
// same protocol version it was read with.
func (s *clientSettings) encode(version proto.Protocol) []byte {
	w := codec.NewWriter(version)
	w.WriteString(s.locale)
	w.WriteByte(s.viewDistance)
	switch {
	case version.Lower(proto.Minecraft_1_8):
		w.WriteByte(int8(s.chatMode))
		w.WriteBool(s.chatColors)
		w.WriteByte(s.difficulty)
		w.WriteBool(s.showCape)
	case version.Lower(proto.Minecraft_1_9):
		w.WriteByte(int8(s.chatMode))
		w.WriteBool(s.chatColors)
		w.WriteUByte(s.displayedSkinParts)
	default:
		w.WriteVarInt(s.chatMode)
		w.WriteBool(s.chatColors)
		w.WriteUByte(s.displayedSkinParts)
		w.WriteVarInt(s.mainHand)
	}
	return w.Bytes()
}

func (s *clientSettings) equal(o *clientSettings) bool {
	return o != nil && *s == *o
}

// normalizedLocale maps the client's "en_GB" style locale onto a BCP 47 tag
// for log fields, falling back to the raw value.
func (s *clientSettings) normalizedLocale() string {
	tag, err := language.Parse(strings.Replace(s.locale, "_", "-", 1))
	if err != nil {
		return s.locale
	}
	return tag.String()
}
