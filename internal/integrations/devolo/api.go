package devolo

import (
	"context"
	"slices"
	"strings"
)

// NetworkDevice is one adapter in the powerline network.
type NetworkDevice struct {
	MACAddress       string `json:"mac_address"`
	AttachedToRouter bool   `json:"attached_to_router"`
	Topology         string `json:"topology,omitempty"`
	ProductName      string `json:"product_name,omitempty"`
	Technology       string `json:"technology,omitempty"`
	UserDeviceName   string `json:"user_device_name,omitempty"`
}

// DataRate is the link speed between two adapters in Mbit/s.
type DataRate struct {
	MACAddressFrom string  `json:"mac_address_from"`
	MACAddressTo   string  `json:"mac_address_to"`
	RxRate         float64 `json:"rx_rate"`
	TxRate         float64 `json:"tx_rate"`
}

// NetworkOverview is the PLC network as seen by one adapter.
type NetworkOverview struct {
	Devices   []NetworkDevice `json:"devices"`
	DataRates []DataRate      `json:"data_rates"`
}

// PlcNetAPI reads the PLC network of one adapter. Implementations return an
// error wrapping ErrDeviceUnavailable when the adapter cannot be reached.
type PlcNetAPI interface {
	GetNetworkOverview(ctx context.Context) (NetworkOverview, error)
}

// Clone returns a deep copy of o.
func (o NetworkOverview) Clone() NetworkOverview {
	return NetworkOverview{
		Devices:   slices.Clone(o.Devices),
		DataRates: slices.Clone(o.DataRates),
	}
}

// ConnectedToRouter reports whether the adapter with mac is attached to the
// router. It is false when mac does not appear in the overview at all.
func (o NetworkOverview) ConnectedToRouter(mac string) bool {
	want := NormalizeMAC(mac)
	found := false
	for _, d := range o.Devices {
		if NormalizeMAC(d.MACAddress) != want {
			continue
		}
		if !d.AttachedToRouter {
			return false
		}
		found = true
	}
	return found
}

// NormalizeMAC upper-cases mac and strips ':' and '-' separators, so
// "aa:bb:cc:dd:ee:ff" and "AABBCCDDEEFF" compare equal.
func NormalizeMAC(mac string) string {
	r := strings.NewReplacer(":", "", "-", "")
	return strings.ToUpper(r.Replace(mac))
}
