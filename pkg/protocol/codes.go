// Package protocol implements the server wire format: length-prefixed frames
// carrying network-byte-order payloads.
package protocol

// Message codes are two ASCII characters packed big-endian.
const (
	MsgAccept         uint16 = 0x6163 // 'ac'
	MsgAddPlayer      uint16 = 0x6170 // 'ap'
	MsgDropFlag       uint16 = 0x6466 // 'df'
	MsgEnter          uint16 = 0x656e // 'en'
	MsgExit           uint16 = 0x6578 // 'ex'
	MsgFlagUpdate     uint16 = 0x6675 // 'fu'
	MsgGrabFlag       uint16 = 0x6766 // 'gf'
	MsgMessage        uint16 = 0x6d67 // 'mg'
	MsgNegotiateFlags uint16 = 0x6e66 // 'nf'
	MsgPlayerUpdate   uint16 = 0x7075 // 'pu'
	MsgReject         uint16 = 0x726a // 'rj'
	MsgRemovePlayer   uint16 = 0x7270 // 'rp'
	MsgSetVar         uint16 = 0x7376 // 'sv'
)

// Reject codes carried by MsgReject.
const (
	RejectBadRequest uint16 = iota
	RejectBadTeam
	RejectBadType
	RejectBadCallsign
	RejectRepeatCallsign
	RejectServerFull
	RejectBadVersion
)

// Player types carried by MsgEnter.
const (
	TankPlayer     uint16 = 0
	ComputerPlayer uint16 = 1
	ObserverType   uint16 = 2
)

// Status bits of a player update.
const (
	StatusAlive        uint16 = 1 << 0
	StatusPaused       uint16 = 1 << 1
	StatusExploding    uint16 = 1 << 2
	StatusTeleporting  uint16 = 1 << 3
	StatusFlagActive   uint16 = 1 << 4
	StatusCrossingWall uint16 = 1 << 5
	StatusFalling      uint16 = 1 << 6
	StatusOnDriver     uint16 = 1 << 7
	StatusUserInputs   uint16 = 1 << 8
	StatusJumpJets     uint16 = 1 << 9
	StatusPlaySound    uint16 = 1 << 10
)

// ServerPlayer is the sender id used for messages originating from the server.
const ServerPlayer uint8 = 253

// AllPlayers addresses a message to every player.
const AllPlayers uint8 = 254

// NoPlayer marks the absence of a player.
const NoPlayer uint8 = 255

// Field sizes of fixed-length strings.
const (
	CallsignLen = 32
	EmailLen    = 128
	TokenLen    = 22
	VersionLen  = 8
	MessageLen  = 128
)

// CodeString renders a message code as its two-character mnemonic.
func CodeString(code uint16) string {
	return string([]byte{byte(code >> 8), byte(code)})
}

// ProtocolVersion is the version string clients must send in MsgEnter.
const ProtocolVersion = "0221"

// Team limits.
const (
	RogueTeam    uint16 = 0
	ObserverTeam uint16 = 5
	MaxTeam      uint16 = 7
)
