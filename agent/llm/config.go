package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
	openrouterx "github.com/tanpawarit/Chative-Learning-Coordinator/pkg/openrouter"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"600"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	SalesModel       string `envconfig:"SALES_MODEL" split_words:"true"`
	SupportModel     string `envconfig:"SUPPORT_MODEL" split_words:"true"`
	ComplaintsModel  string `envconfig:"COMPLAINTS_MODEL" split_words:"true"`
	InquiryModel     string `envconfig:"INQUIRY_MODEL" split_words:"true"`
	CoordinatorModel string `envconfig:"COORDINATOR_MODEL" split_words:"true"`
	ClassifierModel  string `envconfig:"CLASSIFIER_MODEL" split_words:"true"`

	SalesTemperature       float32 `envconfig:"SALES_TEMPERATURE" split_words:"true" default:"-1"`
	SupportTemperature     float32 `envconfig:"SUPPORT_TEMPERATURE" split_words:"true" default:"-1"`
	ComplaintsTemperature  float32 `envconfig:"COMPLAINTS_TEMPERATURE" split_words:"true" default:"-1"`
	InquiryTemperature     float32 `envconfig:"INQUIRY_TEMPERATURE" split_words:"true" default:"-1"`
	CoordinatorTemperature float32 `envconfig:"COORDINATOR_TEMPERATURE" split_words:"true" default:"-1"`
	ClassifierTemperature  float32 `envconfig:"CLASSIFIER_TEMPERATURE" split_words:"true" default:"0"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

// OpenRouterFor resolves the model settings of one decision unit, falling
// back to the defaults when no override is set.
func (c Config) OpenRouterFor(unit contractx.UnitID) openrouterx.Config {
	var (
		override string
		temp     float32 = -1
	)
	switch unit {
	case contractx.UnitSales:
		override, temp = c.SalesModel, c.SalesTemperature
	case contractx.UnitSupport:
		override, temp = c.SupportModel, c.SupportTemperature
	case contractx.UnitComplaints:
		override, temp = c.ComplaintsModel, c.ComplaintsTemperature
	case contractx.UnitInquiry:
		override, temp = c.InquiryModel, c.InquiryTemperature
	case contractx.UnitCoordinator:
		override, temp = c.CoordinatorModel, c.CoordinatorTemperature
	}
	return c.build(override, temp)
}

// ClassifierOpenRouter resolves the model settings of the category classifier.
func (c Config) ClassifierOpenRouter() openrouterx.Config {
	return c.build(c.ClassifierModel, c.ClassifierTemperature)
}

func (c Config) build(override string, temp float32) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	if v := strings.TrimSpace(override); v != "" {
		modelName = v
	}
	if temp < 0 {
		temp = c.Temperature
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
