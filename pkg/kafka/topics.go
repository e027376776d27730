package kafka

const (
	TopicDispatchEvents   string = "dispatch.events"
	TopicDispatchCommands string = "dispatch.commands"
	TopicNotifications    string = "notifications.events"
	TopicDeadLetterQueue  string = "dispatch.dlq"
)
