package rabbitmq

// NotificationsExchange принимает исходящие уведомления (direct).
const NotificationsExchange = "notifications"

// EmailRoutingKey маршрутизирует письма.
const EmailRoutingKey = "email"

const prefetch = 10

// QueueConfig описывает очередь и её ключ привязки к обменнику.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetNotificationQueues возвращает очереди, которые обслуживает воркер уведомлений.
func GetNotificationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "notifications.email", RoutingKey: EmailRoutingKey},
	}
}
