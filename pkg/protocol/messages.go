package protocol

import (
	"fmt"
	"sort"
)

// FlagAbbrevLen is the packed size of a flag type abbreviation.
const FlagAbbrevLen = 2

// PackFlagAbbrev packs a flag type abbreviation into its two-byte form.
func PackFlagAbbrev(p *Packer, abbrev string) *Packer {
	return p.String(abbrev, FlagAbbrevLen)
}

// UnpackFlagAbbrev reads a two-byte flag type abbreviation. The null type
// unpacks as the empty string.
func UnpackFlagAbbrev(u *Unpacker) string {
	return u.String(FlagAbbrevLen)
}

// EnterRequest is sent by a client to join the game.
type EnterRequest struct {
	Type         uint16
	Team         uint16
	Callsign     string
	Email        string
	Token        string
	Version      string
	Capabilities []string
}

// Frame encodes the request.
func (m EnterRequest) Frame() Frame {
	p := NewPacker(4 + CallsignLen + EmailLen + TokenLen + VersionLen + len(m.Capabilities)*FlagAbbrevLen)
	p.Uint16(m.Type).Uint16(m.Team).
		String(m.Callsign, CallsignLen).
		String(m.Email, EmailLen).
		String(m.Token, TokenLen).
		String(m.Version, VersionLen)
	for _, c := range m.Capabilities {
		PackFlagAbbrev(p, c)
	}
	return Frame{Code: MsgEnter, Payload: p.Bytes()}
}

// UnpackEnterRequest decodes an enter payload.
func UnpackEnterRequest(b []byte) (EnterRequest, error) {
	u := NewUnpacker(b)
	m := EnterRequest{
		Type:     u.Uint16(),
		Team:     u.Uint16(),
		Callsign: u.String(CallsignLen),
		Email:    u.String(EmailLen),
		Token:    u.String(TokenLen),
		Version:  u.String(VersionLen),
	}
	if u.Err != nil {
		return EnterRequest{}, fmt.Errorf("unpack enter: %w", u.Err)
	}
	if u.Remaining()%FlagAbbrevLen != 0 {
		return EnterRequest{}, fmt.Errorf("unpack enter: capability list has odd length %d", u.Remaining())
	}
	m.Capabilities = unpackAbbrevList(u)
	return m, nil
}

// EnterReject tells a client why it may not join.
type EnterReject struct {
	Code   uint16
	Reason string
}

// Frame encodes the rejection.
func (m EnterReject) Frame() Frame {
	p := NewPacker(2 + MessageLen).Uint16(m.Code).String(m.Reason, MessageLen)
	return Frame{Code: MsgReject, Payload: p.Bytes()}
}

// UnpackEnterReject decodes a reject payload.
func UnpackEnterReject(b []byte) (EnterReject, error) {
	u := NewUnpacker(b)
	m := EnterReject{Code: u.Uint16(), Reason: u.String(MessageLen)}
	if u.Err != nil {
		return EnterReject{}, fmt.Errorf("unpack reject: %w", u.Err)
	}
	return m, nil
}

// Accept confirms a successful enter and assigns the session id.
type Accept struct {
	SessionID uint8
}

// Frame encodes the acceptance.
func (m Accept) Frame() Frame {
	return Frame{Code: MsgAccept, Payload: NewPacker(1).Uint8(m.SessionID).Bytes()}
}

// AddPlayer announces a newly entered player to the others.
type AddPlayer struct {
	SessionID uint8
	Type      uint16
	Team      uint16
	Callsign  string
}

// Frame encodes the announcement.
func (m AddPlayer) Frame() Frame {
	p := NewPacker(5 + CallsignLen).
		Uint8(m.SessionID).Uint16(m.Type).Uint16(m.Team).
		String(m.Callsign, CallsignLen)
	return Frame{Code: MsgAddPlayer, Payload: p.Bytes()}
}

// UnpackAddPlayer decodes an add-player payload.
func UnpackAddPlayer(b []byte) (AddPlayer, error) {
	u := NewUnpacker(b)
	m := AddPlayer{SessionID: u.Uint8(), Type: u.Uint16(), Team: u.Uint16(), Callsign: u.String(CallsignLen)}
	if u.Err != nil {
		return AddPlayer{}, fmt.Errorf("unpack add player: %w", u.Err)
	}
	return m, nil
}

// PlayerUpdateLen is the payload size of a player update.
const PlayerUpdateLen = 1 + 4 + 2 + 2 + 12 + 12 + 4 + 4

// PlayerUpdate is one kinematic sample reported by a client.
type PlayerUpdate struct {
	SessionID       uint8
	Timestamp       float32
	Order           uint16
	Status          uint16
	Position        Vec3
	Velocity        Vec3
	Azimuth         float32
	AngularVelocity float32
}

// Frame encodes the update.
func (m PlayerUpdate) Frame() Frame {
	p := NewPacker(PlayerUpdateLen).
		Uint8(m.SessionID).
		Float32(m.Timestamp).
		Uint16(m.Order).
		Uint16(m.Status).
		Vec3(m.Position).
		Vec3(m.Velocity).
		Float32(m.Azimuth).
		Float32(m.AngularVelocity)
	return Frame{Code: MsgPlayerUpdate, Payload: p.Bytes()}
}

// UnpackPlayerUpdate decodes a player update payload.
func UnpackPlayerUpdate(b []byte) (PlayerUpdate, error) {
	u := NewUnpacker(b)
	m := PlayerUpdate{
		SessionID:       u.Uint8(),
		Timestamp:       u.Float32(),
		Order:           u.Uint16(),
		Status:          u.Uint16(),
		Position:        u.Vec3(),
		Velocity:        u.Vec3(),
		Azimuth:         u.Float32(),
		AngularVelocity: u.Float32(),
	}
	if u.Err != nil {
		return PlayerUpdate{}, fmt.Errorf("unpack player update: %w", u.Err)
	}
	return m, nil
}

// NegotiateFlags carries a list of flag type abbreviations. Clients send the
// types they support; the server replies with the types they are missing.
type NegotiateFlags struct {
	Types []string
}

// Frame encodes the list.
func (m NegotiateFlags) Frame() Frame {
	p := NewPacker(len(m.Types) * FlagAbbrevLen)
	for _, t := range m.Types {
		PackFlagAbbrev(p, t)
	}
	return Frame{Code: MsgNegotiateFlags, Payload: p.Bytes()}
}

// UnpackNegotiateFlags decodes len/2 abbreviations, skipping the null type.
func UnpackNegotiateFlags(b []byte) (NegotiateFlags, error) {
	if len(b)%FlagAbbrevLen != 0 {
		return NegotiateFlags{}, fmt.Errorf("unpack negotiate flags: odd length %d", len(b))
	}
	return NegotiateFlags{Types: unpackAbbrevList(NewUnpacker(b))}, nil
}

func unpackAbbrevList(u *Unpacker) []string {
	var out []string
	for u.Remaining() >= FlagAbbrevLen {
		if t := UnpackFlagAbbrev(u); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// RemovePlayer tells clients a session has left.
type RemovePlayer struct {
	SessionID uint8
}

// Frame encodes the removal.
func (m RemovePlayer) Frame() Frame {
	return Frame{Code: MsgRemovePlayer, Payload: NewPacker(1).Uint8(m.SessionID).Bytes()}
}

// UnpackRemovePlayer decodes a removal payload.
func UnpackRemovePlayer(b []byte) (RemovePlayer, error) {
	u := NewUnpacker(b)
	m := RemovePlayer{SessionID: u.Uint8()}
	if u.Err != nil {
		return RemovePlayer{}, fmt.Errorf("unpack remove player: %w", u.Err)
	}
	return m, nil
}

// Message is a plain text chat line.
type Message struct {
	From uint8
	To   uint8
	Text string
}

// Frame encodes the message, truncating text to MessageLen.
func (m Message) Frame() Frame {
	text := m.Text
	if len(text) > MessageLen-1 {
		text = text[:MessageLen-1]
	}
	p := NewPacker(2 + len(text) + 1).Uint8(m.From).Uint8(m.To).Raw([]byte(text)).Uint8(0)
	return Frame{Code: MsgMessage, Payload: p.Bytes()}
}

// UnpackMessage decodes a chat payload.
func UnpackMessage(b []byte) (Message, error) {
	u := NewUnpacker(b)
	m := Message{From: u.Uint8(), To: u.Uint8()}
	if u.Err != nil {
		return Message{}, fmt.Errorf("unpack message: %w", u.Err)
	}
	m.Text = u.String(u.Remaining())
	return m, nil
}

// FlagState is the wire form of one flag.
type FlagState struct {
	Index           uint16
	Type            string
	Status          uint16
	Endurance       uint16
	Owner           uint8
	Position        Vec3
	LaunchPosition  Vec3
	LandingPosition Vec3
	FlightTime      float32
	FlightEnd       float32
	InitialVelocity float32
}

// FlagStateLen is the packed size of a FlagState.
const FlagStateLen = 2 + FlagAbbrevLen + 2 + 2 + 1 + 36 + 12

// Pack appends the flag to p.
func (f FlagState) Pack(p *Packer) *Packer {
	p.Uint16(f.Index)
	PackFlagAbbrev(p, f.Type)
	return p.Uint16(f.Status).Uint16(f.Endurance).Uint8(f.Owner).
		Vec3(f.Position).Vec3(f.LaunchPosition).Vec3(f.LandingPosition).
		Float32(f.FlightTime).Float32(f.FlightEnd).Float32(f.InitialVelocity)
}

// UnpackFlagState reads one flag from u.
func UnpackFlagState(u *Unpacker) FlagState {
	return FlagState{
		Index:           u.Uint16(),
		Type:            UnpackFlagAbbrev(u),
		Status:          u.Uint16(),
		Endurance:       u.Uint16(),
		Owner:           u.Uint8(),
		Position:        u.Vec3(),
		LaunchPosition:  u.Vec3(),
		LandingPosition: u.Vec3(),
		FlightTime:      u.Float32(),
		FlightEnd:       u.Float32(),
		InitialVelocity: u.Float32(),
	}
}

// FlagUpdate carries the state of several flags.
type FlagUpdate struct {
	Flags []FlagState
}

// Frame encodes the update.
func (m FlagUpdate) Frame() Frame {
	p := NewPacker(2 + len(m.Flags)*FlagStateLen).Uint16(uint16(len(m.Flags)))
	for _, f := range m.Flags {
		f.Pack(p)
	}
	return Frame{Code: MsgFlagUpdate, Payload: p.Bytes()}
}

// UnpackFlagUpdate decodes a flag update payload.
func UnpackFlagUpdate(b []byte) (FlagUpdate, error) {
	u := NewUnpacker(b)
	n := int(u.Uint16())
	m := FlagUpdate{}
	for i := 0; i < n && u.Err == nil; i++ {
		m.Flags = append(m.Flags, UnpackFlagState(u))
	}
	if u.Err != nil {
		return FlagUpdate{}, fmt.Errorf("unpack flag update: %w", u.Err)
	}
	return m, nil
}

// GrabFlagRequest is sent by a client that wants to pick up a flag.
type GrabFlagRequest struct {
	Index uint16
}

// Frame encodes the request.
func (m GrabFlagRequest) Frame() Frame {
	return Frame{Code: MsgGrabFlag, Payload: NewPacker(2).Uint16(m.Index).Bytes()}
}

// UnpackGrabFlagRequest decodes a grab request.
func UnpackGrabFlagRequest(b []byte) (GrabFlagRequest, error) {
	u := NewUnpacker(b)
	m := GrabFlagRequest{Index: u.Uint16()}
	if u.Err != nil {
		return GrabFlagRequest{}, fmt.Errorf("unpack grab flag: %w", u.Err)
	}
	return m, nil
}

// DropFlagRequest is sent by a client dropping its flag at a position.
type DropFlagRequest struct {
	Position Vec3
}

// Frame encodes the request.
func (m DropFlagRequest) Frame() Frame {
	return Frame{Code: MsgDropFlag, Payload: NewPacker(12).Vec3(m.Position).Bytes()}
}

// UnpackDropFlagRequest decodes a drop request.
func UnpackDropFlagRequest(b []byte) (DropFlagRequest, error) {
	u := NewUnpacker(b)
	m := DropFlagRequest{Position: u.Vec3()}
	if u.Err != nil {
		return DropFlagRequest{}, fmt.Errorf("unpack drop flag: %w", u.Err)
	}
	return m, nil
}

// FlagEvent is broadcast by the server when a player grabs or drops a flag.
// Code is MsgGrabFlag or MsgDropFlag.
type FlagEvent struct {
	Code      uint16
	SessionID uint8
	Flag      FlagState
}

// Frame encodes the event.
func (m FlagEvent) Frame() Frame {
	p := NewPacker(1 + FlagStateLen).Uint8(m.SessionID)
	m.Flag.Pack(p)
	return Frame{Code: m.Code, Payload: p.Bytes()}
}

// UnpackFlagEvent decodes a server grab/drop broadcast.
func UnpackFlagEvent(code uint16, b []byte) (FlagEvent, error) {
	u := NewUnpacker(b)
	m := FlagEvent{Code: code, SessionID: u.Uint8()}
	m.Flag = UnpackFlagState(u)
	if u.Err != nil {
		return FlagEvent{}, fmt.Errorf("unpack flag event: %w", u.Err)
	}
	return m, nil
}

// SetVar carries world variables. Keys are packed in sorted order.
type SetVar struct {
	Vars map[string]string
}

// Frame encodes the variables. Keys and values longer than 255 bytes are truncated.
func (m SetVar) Frame() Frame {
	keys := make([]string, 0, len(m.Vars))
	for k := range m.Vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := NewPacker(2 + len(keys)*16).Uint16(uint16(len(keys)))
	for _, k := range keys {
		packShortString(p, k)
		packShortString(p, m.Vars[k])
	}
	return Frame{Code: MsgSetVar, Payload: p.Bytes()}
}

func packShortString(p *Packer, s string) {
	if len(s) > 0xff {
		s = s[:0xff]
	}
	p.Uint8(uint8(len(s))).Raw([]byte(s))
}

// UnpackSetVar decodes a variable payload.
func UnpackSetVar(b []byte) (SetVar, error) {
	u := NewUnpacker(b)
	n := int(u.Uint16())
	m := SetVar{Vars: make(map[string]string, n)}
	for i := 0; i < n && u.Err == nil; i++ {
		k := string(u.Raw(int(u.Uint8())))
		v := string(u.Raw(int(u.Uint8())))
		m.Vars[k] = v
	}
	if u.Err != nil {
		return SetVar{}, fmt.Errorf("unpack set var: %w", u.Err)
	}
	return m, nil
}
