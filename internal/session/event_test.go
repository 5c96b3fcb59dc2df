package session

import (
	"testing"
)

func TestBrokerDeliversEventsInOrder(t *testing.T) {
	broker := NewBroker(8)
	stream := broker.Subscribe("s-1")
	defer broker.Unsubscribe("s-1", stream)

	types := []EventType{EventStatus, EventLog, EventAttestation, EventComplete}
	for i, eventType := range types {
		broker.Publish(Event{Type: eventType, SessionID: "s-1", At: int64(i)})
	}

	for i, want := range types {
		got := <-stream.Events()
		if got.Type != want {
			t.Fatalf("事件 %d 乱序: 期望 %s, 实际 %s", i, want, got.Type)
		}
	}
}

func TestBrokerIsolatesSessions(t *testing.T) {
	broker := NewBroker(8)
	first := broker.Subscribe("s-1")
	second := broker.Subscribe("s-2")
	defer broker.Unsubscribe("s-2", second)

	broker.Publish(Event{Type: EventStatus, SessionID: "s-1"})
	broker.CloseSession("s-1")

	event, ok := <-first.Events()
	if !ok || event.SessionID != "s-1" {
		t.Fatalf("订阅者未收到本会话事件: %+v", event)
	}
	if _, ok := <-first.Events(); ok {
		t.Fatal("会话终结后通道应关闭")
	}

	select {
	case event := <-second.Events():
		t.Fatalf("收到其他会话的事件: %+v", event)
	default:
	}
}

func TestStreamDropsWhenBufferFull(t *testing.T) {
	broker := NewBroker(2)
	stream := broker.Subscribe("s-1")
	defer broker.Unsubscribe("s-1", stream)

	for i := 0; i < 5; i++ {
		broker.Publish(Event{Type: EventLog, SessionID: "s-1", At: int64(i)})
	}
	if stream.Dropped() != 3 {
		t.Fatalf("期望丢弃 3 条, 实际 %d 条", stream.Dropped())
	}

	// 已投递的事件保持发布顺序。
	for i := 0; i < 2; i++ {
		event := <-stream.Events()
		if event.At != int64(i) {
			t.Fatalf("事件顺序异常: 期望 %d, 实际 %d", i, event.At)
		}
	}
}
