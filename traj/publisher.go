package traj

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MatchesMessage is the payload published to {prefix}/{pair}/matches
type MatchesMessage struct {
	RunID         string    `json:"runId"`
	Pair          string    `json:"pair"`
	Offset        float64   `json:"offset"`
	MaxDifference float64   `json:"maxDifference"`
	Summary       Summary   `json:"summary"`
	Matches       []Match   `json:"matches"`
	EvaluatedAt   time.Time `json:"evaluatedAt"`
}

// PairStatus is one entry of the {prefix}/pairs index
type PairStatus struct {
	Pair        string    `json:"pair"`
	RunID       string    `json:"runId"`
	Matched     int       `json:"matched"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// Publisher publishes evaluation results to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	latest        map[string]PairStatus
	mu            sync.RWMutex
}

// NewPublisher creates a result publisher. If client is nil, publishing is disabled.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           1,
		retain:        true, // late subscribers get the last result
		latest:        make(map[string]PairStatus),
	}
}

// MatchesTopic returns the topic results of a pair are published to
func (p *Publisher) MatchesTopic(pair string) string {
	return fmt.Sprintf("%s/%s/matches", p.publishPrefix, pair)
}

// PublishEvaluation publishes the matches of ev and refreshes the pair index
func (p *Publisher) PublishEvaluation(ev *Evaluation) error {
	if p.client == nil || !p.client.IsConnected() {
		return ErrNotConnected
	}

	msg := MatchesMessage{
		RunID:         ev.RunID,
		Pair:          ev.Pair,
		Offset:        ev.Offset,
		MaxDifference: ev.MaxDifference,
		Summary:       ev.Summary,
		Matches:       ev.Matches,
		EvaluatedAt:   ev.EvaluatedAt,
	}
	if err := p.publishJSON(p.MatchesTopic(ev.Pair), msg); err != nil {
		Logf("Error publishing matches for %s: %v", ev.Pair, err)
		return err
	}
	Logf("Published %d matches for %s (run %s)", len(ev.Matches), ev.Pair, ev.RunID)

	p.mu.Lock()
	p.latest[ev.Pair] = PairStatus{
		Pair:        ev.Pair,
		RunID:       ev.RunID,
		Matched:     ev.Summary.Matched,
		EvaluatedAt: ev.EvaluatedAt,
	}
	p.mu.Unlock()

	if err := p.publishIndex(); err != nil {
		Logf("Error publishing pair index: %v", err)
		return err
	}
	return nil
}

// publishIndex publishes the status of every published pair, sorted by name
func (p *Publisher) publishIndex() error {
	p.mu.RLock()
	index := make([]PairStatus, 0, len(p.latest))
	for _, st := range p.latest {
		index = append(index, st)
	}
	p.mu.RUnlock()

	sort.Slice(index, func(i, j int) bool { return index[i].Pair < index[j].Pair })
	return p.publishJSON(p.publishPrefix+"/pairs", map[string]interface{}{
		"pairs":     index,
		"timestamp": time.Now().Unix(),
	})
}

func (p *Publisher) publishJSON(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", topic, err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// GetStatus returns the last published status of a pair
func (p *Publisher) GetStatus(pair string) (PairStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.latest[pair]
	return st, ok
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
