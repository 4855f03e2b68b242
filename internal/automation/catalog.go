package automation

// TriggerEvents are the event names a rule can subscribe to.
var TriggerEvents = []string{
	"lead_created",
	"lead_updated",
	"lead_status_changed",
	"lead_assigned",
	"lead_tag_added",
	"lead_tag_removed",
	"lead_score_changed",
	"funnel_step_completed",
	"funnel_completed",
	"form_submitted",
	"content_consumed",
	"whatsapp_message_received",
	"appointment_booked",
	"appointment_rescheduled",
	"appointment_cancelled",
	"appointment_reminder",
	"appointment_completed",
	"appointment_no_show",
	"task_created",
	"task_completed",
	"task_overdue",
	"payment_successful",
	"payment_failed",
	"payment_refunded",
	"invoice_created",
	"invoice_paid",
	"invoice_overdue",
	"subscription_created",
	"subscription_renewed",
	"subscription_cancelled",
	"card_expiring",
	"coach.inactive",
}

// ActionTypes are the action types downstream workers understand.
var ActionTypes = []string{
	"update_lead_score",
	"add_lead_tag",
	"remove_lead_tag",
	"update_lead_field",
	"update_lead_status",
	"assign_to_staff",
	"add_to_funnel",
	"move_to_funnel_step",
	"send_email",
	"send_sms",
	"send_whatsapp_message",
	"send_internal_notification",
	"send_push_notification",
	"create_task",
	"create_calendar_event",
	"schedule_appointment",
	"create_invoice",
	"issue_refund",
	"call_webhook",
	"trigger_another_automation",
	"wait_delay",
}

func IsTriggerEvent(name string) bool {
	return contains(TriggerEvents, name)
}

func IsActionType(name string) bool {
	return contains(ActionTypes, name)
}

func contains(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}
