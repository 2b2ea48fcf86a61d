package notifications

import "fmt"

// ConciergeOrdered tells the admin a customer paid for an expert audit.
func ConciergeOrdered(adminEmail, uploadID, accountID, adminURL string) Notification {
	return Notification{
		Type:      NotificationConciergeOrdered,
		UploadID:  uploadID,
		AccountID: accountID,
		Recipient: adminEmail,
		Subject:   "New expert audit order",
		Message:   fmt.Sprintf("Upload %s was upgraded to an expert audit and is waiting in the concierge queue.", uploadID),
		Link:      adminURL,
	}
}

// ConciergeDelivered tells the customer their expert audit is ready.
func ConciergeDelivered(customerEmail, uploadID, accountID, dashboardURL, loomURL string) Notification {
	return Notification{
		Type:      NotificationConciergeDelivered,
		UploadID:  uploadID,
		AccountID: accountID,
		Recipient: customerEmail,
		Subject:   "Your expert audit is ready",
		Message:   "Your LLM cost audit has been delivered, including a video walkthrough of the findings.",
		Link:      dashboardURL,
		Data:      map[string]string{"loom_url": loomURL},
	}
}

// AnalysisCompleted tells the account owner an async analysis finished.
func AnalysisCompleted(uploadID, accountID string, totalSpend float64, recommendations int) Notification {
	return Notification{
		Type:      NotificationAnalysisCompleted,
		UploadID:  uploadID,
		AccountID: accountID,
		Subject:   "Analysis completed",
		Message:   fmt.Sprintf("Analyzed $%.2f of spend, %d recommendations.", totalSpend, recommendations),
		Data: map[string]string{
			"total_spend":     fmt.Sprintf("%.2f", totalSpend),
			"recommendations": fmt.Sprintf("%d", recommendations),
		},
	}
}

// AnalysisFailed tells the account owner an upload could not be analyzed.
func AnalysisFailed(uploadID, accountID, reason string) Notification {
	return Notification{
		Type:      NotificationAnalysisFailed,
		UploadID:  uploadID,
		AccountID: accountID,
		Subject:   "Analysis failed",
		Message:   reason,
	}
}
