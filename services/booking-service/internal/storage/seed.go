package storage

import "github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/model"

// DefaultServices is the starter catalog loaded by SEED_SERVICES=true.
var DefaultServices = []model.Service{
	{Name: "Men's Haircut", Description: "Classic cut with wash and style", DurationMinutes: 30, Price: "25.00"},
	{Name: "Beard Trim", Description: "Shape and line-up", DurationMinutes: 20, Price: "15.00"},
	{Name: "Hair & Beard Combo", Description: "Haircut plus beard trim", DurationMinutes: 45, Price: "35.00"},
	{Name: "Kids Haircut", Description: "For children under 12", DurationMinutes: 30, Price: "20.00"},
	{Name: "Hot Shave", Description: "Hot towel straight razor shave", DurationMinutes: 30, Price: "25.00"},
	{Name: "Hair Color", Description: "Single process color", DurationMinutes: 60, Price: "45.00"},
}
