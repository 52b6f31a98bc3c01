package queue

import (
	"context"
	"errors"
	"testing"

	"shop_backend/internal/payment"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      []kafka.Message
	idx       int
	committed []int64
}

func (f *fakeReader) FetchMessage(context.Context) (kafka.Message, error) {
	if f.idx >= len(f.msgs) {
		return kafka.Message{}, context.Canceled
	}
	m := f.msgs[f.idx]
	f.idx++
	return m, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

type fakeProcessor struct {
	processed []string
	failFor   map[string]error
}

func (f *fakeProcessor) Process(_ context.Context, ev payment.Event) error {
	f.processed = append(f.processed, ev.CorrelationID)
	return f.failFor[ev.CorrelationID]
}

func kafkaMsg(t *testing.T, offset int64, corr string) kafka.Message {
	t.Helper()
	return kafka.Message{
		Offset: offset,
		Value: []byte(`{"correlation_id":"` + corr + `","result_code":0,"amount":2500}`),
	}
}

func TestConsumerCommitsOnlyAfterSuccess(t *testing.T) {
	// ws_CO_A 处理失败：offset 不得提交，留待重投；后续消息照常消费
	r := &fakeReader{msgs: []kafka.Message{
		kafkaMsg(t, 0, "ws_CO_A"),
		kafkaMsg(t, 1, "ws_CO_B"),
	}}
	proc := &fakeProcessor{failFor: map[string]error{
		"ws_CO_A": errors.New("redis connection refused"),
	}}

	c := &Consumer{r: r, proc: proc}
	c.Run(context.Background())

	assert.Equal(t, []string{"ws_CO_A", "ws_CO_B"}, proc.processed)
	assert.Equal(t, []int64{1}, r.committed)
}

func TestConsumerDropsDirtyMessages(t *testing.T) {
	// 脏消息（坏 JSON / 缺 correlation id）提交丢弃，不进 processor
	r := &fakeReader{msgs: []kafka.Message{
		{Offset: 0, Value: []byte(`{not json`)},
		{Offset: 1, Value: []byte(`{"result_code":0}`)},
		kafkaMsg(t, 2, "ws_CO_C"),
	}}
	proc := &fakeProcessor{}

	c := &Consumer{r: r, proc: proc}
	c.Run(context.Background())

	require.Equal(t, []string{"ws_CO_C"}, proc.processed)
	assert.Equal(t, []int64{0, 1, 2}, r.committed)
}
