package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(yamlFieldName)
	})
	return validate
}

// Validate checks struct tags on cfg and flattens failures into one error
// that names the offending YAML paths.
func Validate(cfg any) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	err := validatorInstance().Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config validation: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("config validation: %s", strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	path := fe.Namespace()
	// Drop the root struct name: "Config.telegram.token" -> "telegram.token".
	if i := strings.IndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s", path, fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", path, fe.Tag())
}

func yamlFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
	switch name {
	case "-":
		return ""
	case "":
		return fld.Name
	}
	return name
}
