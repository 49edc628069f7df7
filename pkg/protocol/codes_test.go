package protocol

import "testing"

func TestMessageCodes(t *testing.T) {
	tests := map[uint16]string{
		MsgAccept:         "ac",
		MsgAddPlayer:      "ap",
		MsgDropFlag:       "df",
		MsgEnter:          "en",
		MsgExit:           "ex",
		MsgFlagUpdate:     "fu",
		MsgGrabFlag:       "gf",
		MsgMessage:        "mg",
		MsgNegotiateFlags: "nf",
		MsgPlayerUpdate:   "pu",
		MsgReject:         "rj",
		MsgRemovePlayer:   "rp",
		MsgSetVar:         "sv",
	}
	for code, want := range tests {
		if got := CodeString(code); got != want {
			t.Fatalf("CodeString(%#04x) = %q, want %q", code, got, want)
		}
	}
}

func TestRejectCodes(t *testing.T) {
	if RejectBadRequest != 0 || RejectRepeatCallsign != 4 || RejectServerFull != 5 {
		t.Fatalf("reject codes drifted: bad=%d repeat=%d full=%d", RejectBadRequest, RejectRepeatCallsign, RejectServerFull)
	}
}
