package binance

import "fmt"

// Market selects the Binance product whose order books are maintained.
type Market string

const (
	Market_Spot    Market = "spot"
	Market_Futures Market = "futures"
)

type Endpoints struct {
	RestURL   string
	DepthPath string
	StreamURL string
}

var marketEndpoints = map[Market]Endpoints{
	Market_Spot: {
		RestURL:   "https://api.binance.com",
		DepthPath: "/api/v3/depth",
		StreamURL: "wss://stream.binance.com:9443/stream",
	},
	Market_Futures: {
		RestURL:   "https://fapi.binance.com",
		DepthPath: "/fapi/v1/depth",
		StreamURL: "wss://fstream.binance.com/stream",
	},
}

func (m Market) Endpoints() (Endpoints, error) {
	endpoints, ok := marketEndpoints[m]
	if !ok {
		return Endpoints{}, fmt.Errorf("unknown binance market %q", m)
	}
	return endpoints, nil
}
