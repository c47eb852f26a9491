package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/unittestgen/pkg/helpers"
)

const SequenceNumberMetadataKey = "sequence_number"

// PublisherManager fans events out to a set of publishers, each subscribed
// on its own topic. Every outgoing message gets a sequence number, in the
// order they are handled by PublishEvent.
type PublisherManager struct {
	Publishers     map[string][]message.Publisher
	sequenceNumber uint64
	mutex          sync.Mutex
}

func NewPublisherManager() *PublisherManager {
	return &PublisherManager{
		Publishers: make(map[string][]message.Publisher),
	}
}

func (s *PublisherManager) SubscribePublisher(topic string, sub message.Publisher) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Publishers[topic] = append(s.Publishers[topic], sub)
}

func (s *PublisherManager) PublishEvent(event Event) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	b, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "could not marshal event")
	}

	seq := s.sequenceNumber
	s.sequenceNumber++

	var lastErr error
	for topic, subs := range s.Publishers {
		for _, sub := range subs {
			// each publisher gets its own copy, watermill messages are acked individually
			msg := message.NewMessage(watermill.NewUUID(), b)
			msg.Metadata.Set(SequenceNumberMetadataKey, fmt.Sprintf("%d", seq))
			if id := event.Metadata().ExchangeID; id != "" {
				msg.Metadata.Set(helpers.CorrelationIDMetadataKey, id)
			}
			if err := sub.Publish(topic, msg); err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("failed to publish")
				lastErr = err
			}
		}
	}

	return lastErr
}

var _ EventSink = (*PublisherManager)(nil)
