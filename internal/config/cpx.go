package config

import (
	"github.com/spf13/viper"
)

// CPXConfig holds every provider-supplied setting the reward postback
// pipeline depends on. Nothing here is compiled in; values come from the
// environment (CPX_* keys) with defaults for local development only.
type CPXConfig struct {
	AppID          string
	SecureHash     string   // shared secret, never exposed to clients
	AllowedIPs     []string // provider postback source addresses
	OfferWallURL   string
	SurveysAPIURL  string
	LocalCurrency  string
	ConversionRate float64 // provider currency -> local currency
}

// GetCPXConfig returns CPX Research configuration with defaults
func GetCPXConfig() *CPXConfig {
	viper.SetDefault("cpx.app_id", "")
	viper.SetDefault("cpx.secure_hash", "")
	viper.SetDefault("cpx.allowed_ips", []string{
		"188.40.3.73",
		"2a01:4f8:d0a:30ff::2",
		"157.90.97.92",
	})
	viper.SetDefault("cpx.offer_wall_url", "https://offers.cpx-research.com/index.php")
	viper.SetDefault("cpx.surveys_api_url", "https://live-api.cpx-research.com/api/get-surveys.php")
	viper.SetDefault("cpx.local_currency", "IDR")
	viper.SetDefault("cpx.conversion_rate", 15000.0)

	return &CPXConfig{
		AppID:          viper.GetString("cpx.app_id"),
		SecureHash:     viper.GetString("cpx.secure_hash"),
		AllowedIPs:     viper.GetStringSlice("cpx.allowed_ips"),
		OfferWallURL:   viper.GetString("cpx.offer_wall_url"),
		SurveysAPIURL:  viper.GetString("cpx.surveys_api_url"),
		LocalCurrency:  viper.GetString("cpx.local_currency"),
		ConversionRate: viper.GetFloat64("cpx.conversion_rate"),
	}
}

// WalletConfig holds withdrawal policy settings
type WalletConfig struct {
	MinWithdrawal float64
	PayoutBIC     string // our institution id on outgoing pacs.008 messages
}

// GetWalletConfig returns wallet configuration with defaults
func GetWalletConfig() *WalletConfig {
	viper.SetDefault("wallet.min_withdrawal", 50000.0)
	viper.SetDefault("wallet.payout_bic", "SURVEYKU")

	return &WalletConfig{
		MinWithdrawal: viper.GetFloat64("wallet.min_withdrawal"),
		PayoutBIC:     viper.GetString("wallet.payout_bic"),
	}
}
