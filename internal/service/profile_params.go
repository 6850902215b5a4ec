package service

import (
	"encoding/json"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"attestation-core/internal/model"
	"attestation-core/pkg/config"
	"attestation-core/pkg/logger"
)

// LoadProfileParams returns the real-name fields to prefill the
// provider's signup form with. Empty unless real-name mode is on and the
// user has revealed a profile.
func LoadProfileParams(db *gorm.DB, userAddress string, rn config.RealNameConfig) map[string]string {
	if !rn.Required || userAddress == "" {
		return nil
	}

	var profile model.PrivateProfile
	err := db.Where("address = ?", userAddress).First(&profile).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		logger.Error("read private profile failed", zap.String("address", userAddress), zap.Error(err))
		return nil
	}

	var src map[string]interface{}
	if err := json.Unmarshal(profile.SrcProfile, &src); err != nil {
		logger.Error("parse src_profile failed", zap.String("address", userAddress), zap.Error(err))
		return nil
	}

	params := make(map[string]string)
	for _, key := range rn.RequiredFields {
		switch v := src[key].(type) {
		case string:
			params[key] = v
		case []interface{}:
			// blinded fields come as [value, blinding]
			if len(v) > 0 {
				if s, ok := v[0].(string); ok {
					params[key] = s
				}
			}
		}
	}
	return params
}
