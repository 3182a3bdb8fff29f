package devolo

import "testing"

func TestNetworkOverview_ConnectedToRouter(t *testing.T) {
	tests := []struct {
		name    string
		devices []NetworkDevice
		want    bool
	}{
		{name: "attached", devices: []NetworkDevice{{MACAddress: testMAC, AttachedToRouter: true}}, want: true},
		{name: "not attached", devices: []NetworkDevice{{MACAddress: testMAC}}},
		{name: "other adapter attached", devices: []NetworkDevice{{MACAddress: "11:22:33:44:55:66", AttachedToRouter: true}}},
		{name: "no devices"},
		{
			name: "lower case without separators",
			devices: []NetworkDevice{
				{MACAddress: "aabbccddeeff", AttachedToRouter: true},
				{MACAddress: "11:22:33:44:55:66"},
			},
			want: true,
		},
		{
			name: "one of two entries detached",
			devices: []NetworkDevice{
				{MACAddress: testMAC, AttachedToRouter: true},
				{MACAddress: testMAC},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NetworkOverview{Devices: tt.devices}
			if got := o.ConnectedToRouter(testMAC); got != tt.want {
				t.Errorf("ConnectedToRouter() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeMAC(t *testing.T) {
	for in, want := range map[string]string{
		"aa:bb:cc:dd:ee:ff": "AABBCCDDEEFF",
		"AA-BB-CC-DD-EE-FF": "AABBCCDDEEFF",
		"AABBCCDDEEFF":      "AABBCCDDEEFF",
	} {
		if got := NormalizeMAC(in); got != want {
			t.Errorf("NormalizeMAC(%q) = %q, want %q", in, got, want)
		}
	}
}
