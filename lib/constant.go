package lib

// Flag constants
const (
	ACKFlag uint8 = 1 << 4
	SYNFlag uint8 = 1 << 1
	FINFlag uint8 = 1 << 0
)

const (
	TcpHeaderLength     = 20 // options not included
	TcpOptionsMaxLength = 40
	IpHeaderMaxLength   = 60
)

// defaults used when a Connection is built without a config file
const (
	defaultAdvertisedWindow = 8
	defaultInitialCwnd      = 1
	defaultInitialSsthresh  = 16
)
