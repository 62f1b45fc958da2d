// Package ingest listens to the mesh MQTT feed. It does not persist packet
// contents; it records gateway reception metadata and invalidates the caches
// a packet type affects.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/kabili207/meshtastic-go/core/crypto"
	pb "github.com/kabili207/meshtastic-go/core/proto"
	"google.golang.org/protobuf/proto"

	"github.com/kabili207/meshinfo/pkg/config"
	"github.com/kabili207/meshinfo/pkg/meshtastic"
	"github.com/kabili207/meshinfo/pkg/models"
)

// Invalidator is the set of caches a packet can make stale.
type Invalidator interface {
	InvalidateNodes()
	InvalidateLinks()
	InvalidateNeighbors()
	InvalidateChat()
	InvalidateTraceroutes()
}

// ReceptionRecorder stores raw receptions.
type ReceptionRecorder interface {
	RecordReception(ctx context.Context, r *models.Reception, portnum int32) error
}

type Listener struct {
	cfg      config.MQTTConfig
	keys     [][]byte
	target   Invalidator
	recorder ReceptionRecorder
	debounce *debouncer
	log      *slog.Logger
	now      func() time.Time

	client mqtt.Client
}

// NewListener validates the channel keys and builds a listener. recorder may
// be nil, in which case receptions are not stored.
func NewListener(cfg config.MQTTConfig, target Invalidator, recorder ReceptionRecorder, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	keys := make([][]byte, 0, len(cfg.ChannelKeys)+1)
	for _, k := range cfg.ChannelKeys {
		key, err := crypto.ParseKey(k)
		if err != nil {
			return nil, fmt.Errorf("invalid channel key: %w", err)
		}
		keys = append(keys, key)
	}
	keys = append(keys, crypto.DefaultKey)

	if !cfg.RecordReceptions {
		recorder = nil
	}
	return &Listener{
		cfg:      cfg,
		keys:     keys,
		target:   target,
		recorder: recorder,
		debounce: newDebouncer(cfg.InvalidateDebounce),
		log:      logger.With("component", "ingest"),
		now:      time.Now,
	}, nil
}

// Start connects to the broker, retrying with backoff until ctx is done.
// Topics are resubscribed on every reconnect.
func (l *Listener) Start(ctx context.Context) {
	opts := mqtt.NewClientOptions().
		AddBroker(l.cfg.Broker).
		SetClientID(l.cfg.ClientID).
		SetOrderMatters(false).
		SetCleanSession(true).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true)
	if l.cfg.Username != "" {
		opts.SetUsername(l.cfg.Username)
	}
	if l.cfg.Password != "" {
		opts.SetPassword(l.cfg.Password)
	}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		l.HandleMessage(msg.Topic(), msg.Payload())
	}
	opts.OnConnect = func(c mqtt.Client) {
		l.log.Info("connected to broker", "broker", l.cfg.Broker)
		filters := make(map[string]byte, len(l.cfg.Topics))
		for _, t := range l.cfg.Topics {
			filters[t] = 0
		}
		if token := c.SubscribeMultiple(filters, handler); token.Wait() && token.Error() != nil {
			l.log.Error("subscribe failed", "topics", l.cfg.Topics, "error", token.Error())
			return
		}
		l.log.Info("subscribed", "topics", l.cfg.Topics)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		l.log.Warn("broker connection lost", "error", err)
	}

	l.client = mqtt.NewClient(opts)
	go l.connect(ctx, time.Second, time.Minute)
}

func (l *Listener) connect(ctx context.Context, start, maxBackoff time.Duration) {
	backoff := start
	for {
		token := l.client.Connect()
		if token.Wait() && token.Error() == nil {
			return
		}
		l.log.Warn("broker connect failed", "error", token.Error(), "retry_in", backoff)
		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxBackoff)
		case <-ctx.Done():
			return
		}
	}
}

// Stop disconnects and cancels pending invalidations.
func (l *Listener) Stop() {
	l.debounce.Stop()
	if l.client != nil && l.client.IsConnected() {
		l.client.Disconnect(250)
	}
}

// HandleMessage processes one ServiceEnvelope published on topic.
func (l *Listener) HandleMessage(topic string, payload []byte) {
	var env pb.ServiceEnvelope
	if err := proto.Unmarshal(payload, &env); err != nil {
		l.log.Debug("failed to decode ServiceEnvelope", "topic", topic, "error", err)
		return
	}
	packet := env.GetPacket()
	if packet == nil {
		return
	}

	portnum := pb.PortNum_UNKNOWN_APP
	if data := l.decode(packet); data != nil {
		portnum = data.GetPortnum()
	}

	if l.record(&env, packet, portnum) {
		l.invalidate("links", l.target.InvalidateLinks)
	}

	switch portnum {
	case pb.PortNum_NODEINFO_APP, pb.PortNum_POSITION_APP, pb.PortNum_TELEMETRY_APP:
		l.invalidate("nodes", l.target.InvalidateNodes)
	case pb.PortNum_TEXT_MESSAGE_APP:
		l.invalidate("chat", l.target.InvalidateChat)
		l.invalidate("links", l.target.InvalidateLinks)
	case pb.PortNum_TRACEROUTE_APP:
		l.invalidate("traceroutes", l.target.InvalidateTraceroutes)
	case pb.PortNum_NEIGHBORINFO_APP:
		l.invalidate("neighbors", l.target.InvalidateNeighbors)
	}
}

func (l *Listener) decode(packet *pb.MeshPacket) *pb.Data {
	if data := packet.GetDecoded(); data != nil {
		return data
	}
	for _, key := range l.keys {
		data, err := crypto.TryDecode(packet, key)
		if err == nil && data != nil {
			return data
		}
	}
	return nil
}

// record stores the gateway's reception of packet. Packets the gateway did
// not hear over radio carry no RSSI and are skipped, as are relayed packets
// and gateways reporting their own packets.
func (l *Listener) record(env *pb.ServiceEnvelope, packet *pb.MeshPacket, portnum pb.PortNum) bool {
	if l.recorder == nil || packet.GetRxRssi() == 0 {
		return false
	}
	gateway, err := meshtastic.ParseNodeID(env.GetGatewayId())
	if err != nil {
		return false
	}
	from := meshtastic.NodeID(packet.GetFrom())
	if gateway == from {
		return false
	}

	r := receptionFromPacket(packet, gateway, l.now())
	if !r.IsDirect() {
		return false
	}
	if err := l.recorder.RecordReception(context.Background(), r, int32(portnum)); err != nil {
		l.log.Warn("failed to record reception", "from", from, "gateway", gateway, "error", err)
		return false
	}
	return true
}

func receptionFromPacket(packet *pb.MeshPacket, gateway meshtastic.NodeID, now time.Time) *models.Reception {
	id := int64(packet.GetId())
	snr := float64(packet.GetRxSnr())
	rssi := packet.GetRxRssi()

	rxTime := now
	if ts := packet.GetRxTime(); ts != 0 {
		rxTime = time.Unix(int64(ts), 0)
	}

	r := &models.Reception{
		PacketID:   &id,
		From:       meshtastic.NodeID(packet.GetFrom()),
		ReceivedBy: gateway,
		RxTime:     rxTime,
		RxSnr:      &snr,
		RxRssi:     &rssi,
	}
	// Firmware older than 2.3 leaves hop_start unset
	if start := packet.GetHopStart(); start != 0 {
		hs, hl := int32(start), int32(packet.GetHopLimit())
		r.HopStart, r.HopLimit = &hs, &hl
	}
	return r
}

func (l *Listener) invalidate(key string, fn func()) {
	l.debounce.Trigger(key, func() {
		l.log.Debug("invalidating cache", "cache", key)
		fn()
	})
}
