package bus

import "fmt"

// Topic patterns for NATS pub/sub communication.

// TopicTurnSubmit accepts turn submission requests (request/reply). The
// responder answers with the queued turn's identifiers.
const TopicTurnSubmit = "turns.submit"

// TopicTurnEvents carries the progress event stream for one turn.
func TopicTurnEvents(turnID string) string {
	return fmt.Sprintf("events.turns.%s", turnID)
}

// TopicScheduleEvents carries trigger events for one schedule.
func TopicScheduleEvents(scheduleID string) string {
	return fmt.Sprintf("events.schedules.%s", scheduleID)
}

const (
	TopicEventsAll       = "events.>"
	TopicEventsTurns     = "events.turns.*"
	TopicEventsSchedules = "events.schedules.*"
)
