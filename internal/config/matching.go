package config

import (
	"github.com/spf13/viper"

	"github.com/matchbook-labs/matchbook/internal/match"
)

// MatchPreferences builds engine preferences from viper, falling back to the
// defaults for anything unset. Keys live under the "matching" section:
//
//	matching:
//	  amount_tolerance: 0.05
//	  date_range_days: 3
//	  merchant_match_threshold: 0.8
//	  location_radius_km: 10
//	  weights:
//	    merchant: 0.30
//	    amount: 0.30
func MatchPreferences() match.Preferences {
	prefs := match.DefaultPreferences()

	if viper.IsSet("matching.amount_tolerance") {
		prefs.AmountTolerance = viper.GetFloat64("matching.amount_tolerance")
	}
	if viper.IsSet("matching.date_range_days") {
		prefs.DateRangeDays = viper.GetInt("matching.date_range_days")
	}
	if viper.IsSet("matching.merchant_match_threshold") {
		prefs.MerchantMatchThreshold = viper.GetFloat64("matching.merchant_match_threshold")
	}
	if viper.IsSet("matching.location_radius_km") {
		prefs.LocationRadiusKm = viper.GetFloat64("matching.location_radius_km")
	}
	if viper.IsSet("matching.pattern_match_threshold") {
		prefs.PatternMatchThreshold = viper.GetFloat64("matching.pattern_match_threshold")
	}

	weights := map[string]*float64{
		"matching.weights.merchant":       &prefs.Weights.Merchant,
		"matching.weights.amount":         &prefs.Weights.Amount,
		"matching.weights.date":           &prefs.Weights.Date,
		"matching.weights.location":       &prefs.Weights.Location,
		"matching.weights.category":       &prefs.Weights.Category,
		"matching.weights.payment_method": &prefs.Weights.PaymentMethod,
		"matching.weights.text":           &prefs.Weights.Text,
		"matching.weights.pattern":        &prefs.Weights.Pattern,
	}
	for key, target := range weights {
		if viper.IsSet(key) {
			*target = viper.GetFloat64(key)
		}
	}

	return prefs
}

// DatabasePath resolves the configured database location.
func DatabasePath() string {
	if path := viper.GetString("database.path"); path != "" {
		return ExpandPath(path)
	}
	return DefaultDatabasePath()
}
