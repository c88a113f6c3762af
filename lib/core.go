package lib

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	rp "github.com/Clouded-Sabre/ringpool/lib"

	"github.com/FoCDoT-Tech/protocols-sub003/config"
)

// CoreConfig holds the engine-wide settings of one SrtCore.
type CoreConfig struct {
	PreferredMSS    int // maximum payload bytes per segment
	PayloadPoolSize int // number of payload chunks in the ring pool
	PoolDebug       bool
}

// DefaultCoreConfig returns the built-in core defaults.
func DefaultCoreConfig() *CoreConfig {
	return &CoreConfig{
		PreferredMSS:    1440,
		PayloadPoolSize: 2000,
	}
}

// NewCoreConfig derives the core config from the application configuration.
func NewCoreConfig(appConfig *config.Config) *CoreConfig {
	return &CoreConfig{
		PreferredMSS:    appConfig.PreferredMSS,
		PayloadPoolSize: appConfig.PayloadPoolSize,
		PoolDebug:       appConfig.Debug,
	}
}

// SrtCore is the engine root: it owns the payload pool, the registry of live
// connections and the virtual clock they share. Connections belonging to one
// core run fully in parallel with no shared mutable state between them.
type SrtCore struct {
	config *CoreConfig
	clock  *VirtualClock

	mu            sync.Mutex
	connectionMap map[string]*Connection
}

// NewSrtCore starts the engine core and initializes the payload pool.
func NewSrtCore(coreConfig *CoreConfig) (*SrtCore, error) {
	if coreConfig == nil {
		coreConfig = DefaultCoreConfig()
	}
	if coreConfig.PayloadPoolSize <= 0 {
		return nil, fmt.Errorf("srtcore: payload pool size must be positive, got %d", coreConfig.PayloadPoolSize)
	}

	bufferLength = coreConfig.PreferredMSS
	rp.Debug = coreConfig.PoolDebug
	Pool = rp.NewRingPool("SRT: ", coreConfig.PayloadPoolSize, NewPayload, coreConfig.PreferredMSS)
	Pool.Debug = coreConfig.PoolDebug

	core := &SrtCore{
		config:        coreConfig,
		clock:         NewVirtualClock(),
		connectionMap: make(map[string]*Connection),
	}

	log.Println("Srt protocol core started")

	return core, nil
}

// Clock returns the shared virtual clock. The embedding harness advances it
// explicitly; nothing in the core consumes wall time.
func (p *SrtCore) Clock() *VirtualClock {
	return p.clock
}

// NewConnection registers a standalone connection whose outbound segments go
// to transmit. Used when the caller supplies its own wire, e.g. a real codec
// plus socket layer.
func (p *SrtCore) NewConnection(localIP string, localPort int, remoteIP string, remotePort int, connConfig *ConnectionConfig, transmit func(*Segment)) (*Connection, error) {
	localAddr, err := net.ResolveIPAddr("ip", localIP)
	if err != nil {
		return nil, err
	}
	remoteAddr, err := net.ResolveIPAddr("ip", remoteIP)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s:%d-%s:%d", localAddr.IP.String(), localPort, remoteAddr.IP.String(), remotePort)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.connectionMap[key]; ok {
		return nil, fmt.Errorf("srtcore: connection %s already exists", key)
	}

	params := &connectionParams{
		key:        key,
		localAddr:  localAddr,
		remoteAddr: remoteAddr,
		localPort:  localPort,
		remotePort: remotePort,
		transmit:   transmit,
		onClosed:   p.removeConnection,
	}
	conn, err := newConnection(params, connConfig, p.clock)
	if err != nil {
		return nil, err
	}
	p.connectionMap[key] = conn
	return conn, nil
}

// NewPair creates two connections joined by an in-memory channel with the
// given delay, loss oracle and optional codec: a complete two-endpoint
// simulation ready for OpenPassive/OpenActive.
func (p *SrtCore) NewPair(clientIP string, clientPort int, serverIP string, serverPort int, connConfig *ConnectionConfig, delay time.Duration, oracle LossOracle, codec Codec) (client, server *Connection, ch *Channel, err error) {
	client, err = p.NewConnection(clientIP, clientPort, serverIP, serverPort, connConfig, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	server, err = p.NewConnection(serverIP, serverPort, clientIP, clientPort, connConfig, nil)
	if err != nil {
		p.removeConnection(client)
		return nil, nil, nil, err
	}

	ch = NewChannel(p.clock, delay, oracle, codec)
	ch.Attach(client, server)
	return client, server, ch, nil
}

// Advance moves the shared clock forward, firing due retransmission and
// TIME-WAIT deadlines and delivering in-flight channel segments.
func (p *SrtCore) Advance(step time.Duration) {
	p.clock.Advance(step)
}

// removeConnection drops a terminated connection from the registry.
func (p *SrtCore) removeConnection(conn *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.connectionMap[conn.params.key]; !ok {
		return
	}
	delete(p.connectionMap, conn.params.key)
	log.Printf("Srt connection %s terminated and removed.", conn.params.key)
}

// Close tears the core down, releasing every remaining connection.
func (p *SrtCore) Close() error {
	p.mu.Lock()
	conns := make([]*Connection, 0, len(p.connectionMap))
	for _, conn := range p.connectionMap {
		conns = append(conns, conn)
	}
	p.connectionMap = make(map[string]*Connection)
	p.mu.Unlock()

	for _, conn := range conns {
		conn.mu.Lock()
		conn.release()
		conn.mu.Unlock()
	}

	log.Println("Srt core closed gracefully.")
	return nil
}
