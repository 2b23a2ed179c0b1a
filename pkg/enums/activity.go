package enums

// ActivityCategory groups activity log entries.
type ActivityCategory string

const (
	ActivityCategorySystem      ActivityCategory = "SYSTEM"
	ActivityCategoryUserAction  ActivityCategory = "USER_ACTION"
	ActivityCategoryAdminAction ActivityCategory = "ADMIN_ACTION"
)

// ActivityAction names the event recorded in the activity log.
type ActivityAction string

const (
	ActivityPaymentSuccessful       ActivityAction = "PAYMENT_SUCCESSFUL"
	ActivityPaymentFailed           ActivityAction = "PAYMENT_FAILED"
	ActivityRenewSubscription       ActivityAction = "USER_RENEW_SUBSCRIPTION"
	ActivityCreateSubscription      ActivityAction = "USER_CREATE_SUBSCRIPTION"
	ActivityCancelSubscription      ActivityAction = "USER_CANCEL_SUBSCRIPTION"
	ActivitySubscriptionExpired     ActivityAction = "SUBSCRIPTION_EXPIRED"
	ActivitySubscriptionNotRenewing ActivityAction = "SUBSCRIPTION_NOT_RENEWING"
	ActivityAdminChangeSubscription ActivityAction = "ADMIN_CHANGE_SUBSCRIPTION"
	ActivityAdminManualPayment      ActivityAction = "ADMIN_MANUAL_PAYMENT"
	ActivityAdminUpdatePayment      ActivityAction = "ADMIN_UPDATE_PAYMENT"
	ActivityInitializeTransaction   ActivityAction = "INITIALIZE_TRANSACTION"
	ActivityAdminCreateTier         ActivityAction = "ADMIN_CREATE_TIER"
	ActivityAdminUpdateTier         ActivityAction = "ADMIN_UPDATE_TIER"
	ActivityAdminDeleteTier         ActivityAction = "ADMIN_DELETE_TIER"
)
