package models

// All lists every table owned by the service, in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Game{},
		&GameParticipant{},
		&GameWaitlist{},
		&VenueCheckin{},
		&ScheduledNotification{},
		&NotificationPreferences{},
		&Subscription{},
		&SubscriptionLog{},
		&SubscriptionDailySnapshot{},
		&SubscriptionQuotaUsage{},
		&AuthorSubscription{},
		&SubscriptionPayment{},
		&Payment{},
		&Booking{},
		&TournamentRegistration{},
		&ClubMembership{},
		&BillingEvent{},
	}
}
