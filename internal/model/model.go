// Package model declares the gorm models of every domain.
package model

// All returns every model in migration order
func All() []interface{} {
	return []interface{}{
		&User{},
		&Tenant{},
		&UserTenant{},
		&Entity{},
		&Property{},
		&PropertyOption{},
		&Row{},
		&RowValue{},
		&PromptFlow{},
		&PromptTemplate{},
		&PromptFlowOutputMapping{},
		&PromptFlowExecution{},
		&AnalyticsUniqueVisitor{},
		&AnalyticsPageView{},
		&AnalyticsEvent{},
		&SubscriptionPlan{},
		&TenantSubscription{},
		&Credit{},
		&Portal{},
		&Page{},
		&APIKey{},
		&APIKeyEntity{},
		&APIKeyLog{},
	}
}
