package server

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"taskmanager/internal/auth"
)

const nonFieldErrors = "__all__"

const (
	msgRequired         = "This field is required."
	msgInvalidChoice    = "Select a valid choice. That choice is not one of the available choices."
	msgPasswordMismatch = "Passwords do not match."
	msgPasswordTooShort = "The entered password is too short. It must contain at least 3 characters."
	msgPasswordTooLong  = "The entered password is too long."
	msgUsernameInvalid  = "Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters."
	msgUsernameTaken    = "A user with that username already exists."
	msgBadForm          = "The submitted form could not be read."
)

var usernamePattern = regexp.MustCompile(`^[\w.@+-]+$`)

// formErrors maps a form field name to its messages. Errors that belong to
// no single field live under nonFieldErrors.
type formErrors map[string][]string

func (e formErrors) add(field, msg string) {
	e[field] = append(e[field], msg)
}

func (e formErrors) any() bool {
	return len(e) > 0
}

var validatorOnce sync.Once

// setupValidator makes gin's validator report form field names and adds
// the username rule.
func setupValidator() {
	validatorOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("form"), ",")
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
			return usernamePattern.MatchString(fl.Field().String())
		})
	})
}

// bindForm trims submitted values (password fields excepted), binds them
// into form and converts validation failures to per-field messages.
func bindForm(c *gin.Context, form any) formErrors {
	errs := formErrors{}
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		errs.add(nonFieldErrors, msgBadForm)
		return errs
	}
	trimValues(c.Request.Form)
	trimValues(c.Request.PostForm)

	if err := c.ShouldBindWith(form, binding.Form); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			errs.add(nonFieldErrors, msgBadForm)
			return errs
		}
		for _, fe := range verrs {
			errs.add(fe.Field(), validationMessage(fe))
		}
	}
	return errs
}

func trimValues(values map[string][]string) {
	for key, vals := range values {
		if strings.HasPrefix(key, "password") {
			continue
		}
		for i, v := range vals {
			vals[i] = strings.TrimSpace(v)
		}
	}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return msgRequired
	case "max":
		return fmt.Sprintf("Ensure this value has at most %s characters (it has %d).",
			fe.Param(), utf8.RuneCountInString(fmt.Sprint(fe.Value())))
	case "username":
		return msgUsernameInvalid
	}
	return "Enter a valid value."
}

type loginForm struct {
	Username string `form:"username" binding:"required"`
	Password string `form:"password" binding:"required"`
	Next     string `form:"next"`
}

type userForm struct {
	FirstName string `form:"first_name" binding:"required,max=150"`
	LastName  string `form:"last_name" binding:"required,max=150"`
	Username  string `form:"username" binding:"required,max=150,username"`
	Password1 string `form:"password1" binding:"required"`
	Password2 string `form:"password2" binding:"required"`
}

// checkPasswords adds the confirmation and length errors to password2.
// Both may apply at once.
func (f userForm) checkPasswords(errs formErrors) {
	if f.Password1 == "" || f.Password2 == "" {
		return
	}
	if f.Password1 != f.Password2 {
		errs.add("password2", msgPasswordMismatch)
	}
	if utf8.RuneCountInString(f.Password1) < auth.MinPasswordLength {
		errs.add("password2", msgPasswordTooShort)
	}
	if len(f.Password1) > auth.MaxPasswordBytes {
		errs.add("password2", msgPasswordTooLong)
	}
}

// nameForm serves both statuses and labels.
type nameForm struct {
	Name string `form:"name" binding:"required,max=100"`
}

type taskForm struct {
	Name        string   `form:"name" binding:"required,max=100"`
	Description string   `form:"description"`
	Status      string   `form:"status" binding:"required"`
	Executor    string   `form:"executor"`
	Labels      []string `form:"labels"`
}
