package websocket

import (
	"testing"
)

func TestBuildClosePayload(t *testing.T) {
	tests := []struct {
		name   string
		code   StatusCode
		reason string
		want   []byte
	}{
		{
			name: "no_code",
			code: 0,
			want: nil,
		},
		{
			name: "code_only",
			code: StatusNormalClosure,
			want: []byte{0x03, 0xe8},
		},
		{
			name:   "code_and_reason",
			code:   StatusNormalClosure,
			reason: "bye",
			want:   []byte{0x03, 0xe8, 'b', 'y', 'e'},
		},
		{
			name:   "reason_truncated",
			code:   StatusGoingAway,
			reason: string(make([]byte, maxCloseReason+10)),
			want:   append([]byte{0x03, 0xe9}, make([]byte, maxCloseReason)...),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildClosePayload(tt.code, tt.reason)
			if string(got) != string(tt.want) {
				t.Errorf("buildClosePayload() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseClosePayload(t *testing.T) {
	tests := []struct {
		name       string
		payload    []byte
		wantCode   StatusCode
		wantReason string
	}{
		{
			name:     "empty_means_no_status",
			payload:  nil,
			wantCode: StatusNotReceived,
		},
		{
			name:     "one_byte_is_protocol_error",
			payload:  []byte{0x03},
			wantCode: StatusProtocolError,
		},
		{
			name:     "code_only",
			payload:  []byte{0x03, 0xe8},
			wantCode: StatusNormalClosure,
		},
		{
			name:       "code_and_reason",
			payload:    []byte{0x03, 0xe8, 'b', 'y', 'e'},
			wantCode:   StatusNormalClosure,
			wantReason: "bye",
		},
		{
			name:     "invalid_utf8_reason",
			payload:  []byte{0x03, 0xe8, 0xff, 0xfe},
			wantCode: StatusInvalidData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, reason := parseClosePayload(tt.payload)
			if code != tt.wantCode {
				t.Errorf("parseClosePayload() code = %v, want %v", code, tt.wantCode)
			}
			if reason != tt.wantReason {
				t.Errorf("parseClosePayload() reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

func TestCheckClosePayload(t *testing.T) {
	tests := []struct {
		name     string
		code     StatusCode
		reason   string
		wantCode StatusCode
	}{
		{
			name:     "valid_normal_closure",
			code:     StatusNormalClosure,
			wantCode: StatusNormalClosure,
		},
		{
			name:     "below_minimum_is_protocol_error",
			code:     999,
			wantCode: StatusProtocolError,
		},
		{
			name:     "reserved_1004_is_protocol_error",
			code:     1004,
			wantCode: StatusProtocolError,
		},
		{
			name:     "not_received_cannot_appear_on_wire",
			code:     StatusNotReceived,
			wantCode: StatusProtocolError,
		},
		{
			name:     "abnormal_closure_cannot_appear_on_wire",
			code:     StatusClosedAbnormally,
			wantCode: StatusProtocolError,
		},
		{
			name:     "between_1015_and_3000_is_protocol_error",
			code:     2000,
			wantCode: StatusProtocolError,
		},
		{
			name:     "application_range_is_accepted",
			code:     4000,
			wantCode: 4000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := checkClosePayload(tt.code, tt.reason)
			if got != tt.wantCode {
				t.Errorf("checkClosePayload() code = %v, want %v", got, tt.wantCode)
			}
		})
	}
}

func TestStatusCodeString(t *testing.T) {
	if got := StatusNormalClosure.String(); got != "normal closure" {
		t.Errorf("StatusNormalClosure.String() = %q", got)
	}
	if got := StatusCode(4999).String(); got != "4999" {
		t.Errorf("StatusCode(4999).String() = %q, want %q", got, "4999")
	}
}
