package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
)

type event struct {
	Language string `json:"language"`
}

func (e event) Attributes() map[string]string {
	return map[string]string{"language": e.Language}
}

func TestBuildMessageCarriesAttributesAndBaggage(t *testing.T) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	member, err := baggage.NewMember("run", "abc")
	require.NoError(t, err)
	bag, err := baggage.New(member)
	require.NoError(t, err)
	ctx := baggage.ContextWithBaggage(context.Background(), bag)

	msg, err := buildMessage(ctx, event{Language: "tamil"})
	require.NoError(t, err)
	require.Equal(t, "tamil", msg.Attributes["language"])
	require.Equal(t, "run=abc", msg.Attributes["baggage"])

	var decoded event
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	require.Equal(t, "tamil", decoded.Language)
}

func TestBuildMessageRejectsUnmarshalable(t *testing.T) {
	_, err := buildMessage(context.Background(), map[string]any{"ch": make(chan int)})
	require.Error(t, err)
}

func TestPublishWithoutPublisher(t *testing.T) {
	_, err := New(nil).Publish(context.Background(), "refresh", event{})
	require.Error(t, err)
}

func TestCarrierKeys(t *testing.T) {
	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc")
	require.Equal(t, "00-abc", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
