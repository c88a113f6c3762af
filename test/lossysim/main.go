package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/FoCDoT-Tech/protocols-sub003/config"
	"github.com/FoCDoT-Tech/protocols-sub003/lib"
	"github.com/FoCDoT-Tech/protocols-sub003/wire"
)

func main() {
	messages := flag.Int("messages", 20, "Number of payloads to transfer")
	lossRate := flag.Float64("lossRate", -1, "Segment loss probability, overrides config when >= 0")
	useCodec := flag.Bool("codec", true, "Round-trip every segment through the IPv4/TCP codec")
	flag.Parse()

	var err error
	config.AppConfig, err = config.ReadConfig("config.yaml")
	if err != nil {
		log.Println("Configuration file error, using defaults:", err)
		config.AppConfig = config.DefaultConfig()
	}
	if *lossRate >= 0 {
		config.AppConfig.LossRate = *lossRate
	}

	srtCoreObj, err := lib.NewSrtCore(lib.NewCoreConfig(config.AppConfig))
	if err != nil {
		log.Println(err)
		return
	}
	defer srtCoreObj.Close()

	connConfig := lib.NewConnectionConfig(config.AppConfig)

	var oracle lib.LossOracle = lib.NeverDrop{}
	if config.AppConfig.LossRate > 0 {
		oracle = lib.NewRandomLoss(config.AppConfig.LossSeed, config.AppConfig.LossRate)
	}
	var codec lib.Codec
	if *useCodec {
		codec = wire.NewTcpCodec(uint8(config.AppConfig.ProtocolID))
	}

	linkDelay := time.Duration(config.AppConfig.LinkDelay) * time.Millisecond
	client, server, ch, err := srtCoreObj.NewPair(
		"127.0.0.3", 8901, "127.0.0.2", 8902,
		connConfig, linkDelay, oracle, codec)
	if err != nil {
		log.Fatalln("Pair setup error:", err)
	}

	if err := server.OpenPassive(); err != nil {
		log.Fatalln("Passive open error:", err)
	}
	if err := client.OpenActive(); err != nil {
		log.Fatalln("Active open error:", err)
	}

	step := linkDelay
	if step <= 0 {
		step = 10 * time.Millisecond
	}

	if !advanceUntil(srtCoreObj, step, 30*time.Second, func() bool {
		return client.State() == lib.StateEstablished && server.State() == lib.StateEstablished
	}) {
		log.Fatalf("Handshake did not complete: client=%v server=%v", client.State(), server.State())
	}
	log.Println("Handshake complete, both endpoints ESTABLISHED")

	for i := 0; i < *messages; i++ {
		payload := []byte(fmt.Sprintf("message %03d over the lossy link", i))
		if err := client.Send(payload); err != nil {
			log.Fatalln("Send error:", err)
		}
	}

	received := 0
	ok := advanceUntil(srtCoreObj, step, 10*time.Minute, func() bool {
		for {
			data, more := server.Receive()
			if !more {
				break
			}
			log.Printf("Server got: %s", string(data))
			received++
		}
		return received == *messages
	})
	if !ok {
		log.Fatalf("Transfer stalled: received %d of %d payloads", received, *messages)
	}
	log.Printf("All %d payloads delivered in order", received)

	if err := client.Close(); err != nil {
		log.Fatalln("Close error:", err)
	}
	advanceUntil(srtCoreObj, step, 10*time.Minute, func() bool {
		if server.State() == lib.StateCloseWait {
			server.Close()
		}
		return client.IsClosed() && server.IsClosed()
	})

	printStats("client", client.Stats(), ch)
	printStats("server", server.Stats(), ch)
}

// advanceUntil steps the virtual clock until done reports true or the
// simulated budget runs out.
func advanceUntil(core *lib.SrtCore, step, budget time.Duration, done func() bool) bool {
	for elapsed := time.Duration(0); elapsed < budget; elapsed += step {
		if done() {
			return true
		}
		core.Advance(step)
	}
	return done()
}

func printStats(name string, st lib.Stats, ch *lib.Channel) {
	log.Printf("%s: sent=%d received=%d retransmissions=%d dupAcks=%d", name,
		st.SegmentsSent, st.SegmentsReceived, st.Retransmissions, st.DuplicateAcks)
	if st.RttSamples > 0 {
		log.Printf("%s: rtt samples=%d min=%v avg=%v max=%v finalRTO=%v", name,
			st.RttSamples, st.MinRTT, st.AvgRTT, st.MaxRTT, st.FinalRTO)
	}
	log.Printf("channel dropped %d segments total", ch.Dropped())
}
