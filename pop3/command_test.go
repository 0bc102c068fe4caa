package pop3

import (
	"reflect"
	"testing"
)

func TestResponseWireLines(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want []string
	}{
		{
			name: "bare ok",
			resp: Response{OK: true},
			want: []string{"+OK"},
		},
		{
			name: "ok with message",
			resp: Response{OK: true, Message: "2 2"},
			want: []string{"+OK 2 2"},
		},
		{
			name: "error with message",
			resp: Response{Message: "no such message"},
			want: []string{"-ERR no such message"},
		},
		{
			name: "multi-line",
			resp: Response{OK: true, Message: "2 messages", Lines: []string{"1 1", "2 1"}},
			want: []string{"+OK 2 messages", "1 1", "2 1", "."},
		},
		{
			name: "multi-line byte-stuffing",
			resp: Response{OK: true, Lines: []string{"a", ".b", "..c"}},
			want: []string{"+OK", "a", "..b", "...c", "."},
		},
		{
			name: "empty multi-line still terminated",
			resp: Response{OK: true, Message: "0 messages", Lines: []string{}},
			want: []string{"+OK 0 messages", "."},
		},
		{
			name: "nil lines not terminated",
			resp: Response{OK: true, Message: "1 1"},
			want: []string{"+OK 1 1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.resp.WireLines(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("WireLines() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResponseString(t *testing.T) {
	resp := Response{OK: true, Message: "1 octets", Lines: []string{"A"}}
	want := "+OK 1 octets\r\nA\r\n.\r\n"
	if got := resp.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestSplitVerb(t *testing.T) {
	tests := []struct {
		line       string
		verb       string
		parameters string
	}{
		{"STAT", "STAT", ""},
		{"stat", "STAT", ""},
		{"retr 1", "RETR", "1"},
		{"USER alice", "USER", "alice"},
		{"TOP 1 2", "TOP", "1 2"},
		{"PASS secret with spaces", "PASS", "secret with spaces"},
		{"", "", ""},
	}
	for _, tt := range tests {
		verb, parameters := splitVerb(tt.line)
		if verb != tt.verb || parameters != tt.parameters {
			t.Errorf("splitVerb(%q) = (%q, %q), want (%q, %q)",
				tt.line, verb, parameters, tt.verb, tt.parameters)
		}
	}
}

func TestParsers(t *testing.T) {
	tests := []struct {
		name       string
		parser     Parser
		parameters string
		want       string
		wantErr    bool
	}{
		{name: "CAPA", parser: parseCapa, parameters: "", want: "CAPA"},
		{name: "CAPA with argument", parser: parseCapa, parameters: "x", wantErr: true},
		{name: "USER", parser: parseUser, parameters: "alice", want: "USER alice"},
		{name: "USER missing name", parser: parseUser, parameters: "", wantErr: true},
		{name: "USER extra argument", parser: parseUser, parameters: "alice bob", wantErr: true},
		{name: "PASS", parser: parsePass, parameters: "password", want: "PASS password"},
		{name: "PASS with spaces", parser: parsePass, parameters: "pass word", want: "PASS pass word"},
		{name: "PASS missing secret", parser: parsePass, parameters: "", wantErr: true},
		{name: "APOP", parser: parseApop, parameters: "alice abc123", want: "APOP alice abc123"},
		{name: "APOP missing digest", parser: parseApop, parameters: "alice", wantErr: true},
		{name: "AUTH", parser: parseAuth, parameters: "PLAIN", want: "AUTH PLAIN"},
		{name: "AUTH with initial response", parser: parseAuth, parameters: "PLAIN AGFsaWNl", want: "AUTH PLAIN AGFsaWNl"},
		{name: "AUTH missing type", parser: parseAuth, parameters: "", wantErr: true},
		{name: "AUTH extra argument", parser: parseAuth, parameters: "PLAIN a b", wantErr: true},
		{name: "STAT", parser: parseStat, parameters: "", want: "STAT"},
		{name: "STAT with argument", parser: parseStat, parameters: "1", wantErr: true},
		{name: "LIST all", parser: parseList, parameters: "", want: "LIST"},
		{name: "LIST one", parser: parseList, parameters: "2", want: "LIST 2"},
		{name: "LIST extra argument", parser: parseList, parameters: "1 2", wantErr: true},
		{name: "UIDL all", parser: parseUidl, parameters: "", want: "UIDL"},
		{name: "UIDL one", parser: parseUidl, parameters: "2", want: "UIDL 2"},
		{name: "RETR", parser: parseRetr, parameters: "1", want: "RETR 1"},
		{name: "RETR missing number", parser: parseRetr, parameters: "", wantErr: true},
		{name: "RETR extra argument", parser: parseRetr, parameters: "1 2", wantErr: true},
		{name: "DELE", parser: parseDele, parameters: "3", want: "DELE 3"},
		{name: "DELE missing number", parser: parseDele, parameters: "", wantErr: true},
		{name: "TOP", parser: parseTop, parameters: "1 2", want: "TOP 1 2"},
		{name: "TOP missing count", parser: parseTop, parameters: "1", wantErr: true},
		{name: "NOOP", parser: parseNoop, parameters: "", want: "NOOP"},
		{name: "NOOP with argument", parser: parseNoop, parameters: "x", wantErr: true},
		{name: "RSET", parser: parseRset, parameters: "", want: "RSET"},
		{name: "RSET with argument", parser: parseRset, parameters: "x", wantErr: true},
		{name: "QUIT", parser: parseQuit, parameters: "", want: "QUIT"},
		{name: "QUIT with argument", parser: parseQuit, parameters: "now", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := tt.parser(tt.parameters)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parser(%q) error = %v, wantErr %v", tt.parameters, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := cmd.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApopDigest(t *testing.T) {
	// Worked example from RFC 1939 section 7.
	timestamp := "<1896.697170952@dbc.mtview.ca.us>"
	secret := "tanstaaf"
	want := "c4c9334bac560ecc979e58001b3e22fb"
	if got := apopDigest(timestamp, secret); got != want {
		t.Errorf("apopDigest() = %q, want %q", got, want)
	}
}

func TestSplitContentLines(t *testing.T) {
	tests := []struct {
		content string
		want    []string
	}{
		{"A", []string{"A"}},
		{"L1\r\nL2", []string{"L1", "L2"}},
		{"", []string{""}},
		{"trailing\r\n", []string{"trailing", ""}},
	}
	for _, tt := range tests {
		if got := splitContentLines(tt.content); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitContentLines(%q) = %q, want %q", tt.content, got, tt.want)
		}
	}
}
