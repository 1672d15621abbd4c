package protocol

import "testing"

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		in          string
		wantNetwork string
		wantAddr    string
		wantErr     bool
	}{
		{in: "/tmp/test_queue_1_ab.sock", wantNetwork: "unix", wantAddr: "/tmp/test_queue_1_ab.sock"},
		{in: "run.sock", wantNetwork: "unix", wantAddr: "run.sock"},
		{in: "8765", wantNetwork: "tcp", wantAddr: "0.0.0.0:8765"},
		{in: ":8765", wantNetwork: "tcp", wantAddr: "0.0.0.0:8765"},
		{in: "10.0.0.5:8765", wantNetwork: "tcp", wantAddr: "10.0.0.5:8765"},
		{in: "", wantErr: true},
		{in: "host:notaport", wantErr: true},
		{in: "host:0", wantErr: true},
		{in: "host:70000", wantErr: true},
	}

	for _, tc := range cases {
		ep, err := ParseEndpoint(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseEndpoint(%q) = nil error, want error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseEndpoint(%q) error = %v", tc.in, err)
			continue
		}
		if ep.Network != tc.wantNetwork || ep.Addr != tc.wantAddr {
			t.Errorf("ParseEndpoint(%q) = %s/%s, want %s/%s",
				tc.in, ep.Network, ep.Addr, tc.wantNetwork, tc.wantAddr)
		}
	}
}
