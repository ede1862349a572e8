package domain

var Tables = []interface{}{
	// System
	&SysOprLog{},
	&SysScheduler{},
	// Accounts
	&User{},
	&Organization{},
	&Member{},
	&Follow{},
	&MerchantChannel{},
	// Catalog
	&Product{},
	&InventoryHistory{},
	// Orders
	&Order{},
	&OrderItem{},
	// Billing
	&Plan{},
	&Subscription{},
	&Payment{},
	&OrderUsageTracking{},
	// Notifications
	&Notification{},
	&NotificationDelivery{},
}
