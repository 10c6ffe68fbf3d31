package validation

// Names of the built-in form schemas.
const (
	FormSignUp      = "signup"
	FormSignIn      = "signin"
	FormOnboarding  = "onboarding"
	FormMessage     = "message"
	FormAdminCreate = "admin_create_user"
)

const signUpSchema = `{
  "type": "object",
  "required": ["email", "password"],
  "properties": {
    "email": {"type": "string", "format": "email", "maxLength": 254},
    "password": {"type": "string", "minLength": 6, "maxLength": 72},
    "full_name": {"type": "string", "maxLength": 120},
    "role": {"type": "string", "enum": ["user", "assist"]}
  }
}`

const signInSchema = `{
  "type": "object",
  "required": ["email", "password", "role"],
  "properties": {
    "email": {"type": "string", "minLength": 3},
    "password": {"type": "string", "minLength": 1},
    "role": {"type": "string", "enum": ["user", "assist", "super_admin"]}
  }
}`

const onboardingSchema = `{
  "type": "object",
  "required": ["business_name"],
  "properties": {
    "business_name": {"type": "string", "minLength": 1, "maxLength": 200},
    "industry": {"type": "string", "maxLength": 120},
    "website": {"type": "string", "maxLength": 255},
    "full_name": {"type": "string", "maxLength": 120},
    "phone": {"type": "string", "maxLength": 40}
  }
}`

const messageSchema = `{
  "type": "object",
  "required": ["receiver_id"],
  "anyOf": [
    {"required": ["content"], "properties": {"content": {"minLength": 1}}},
    {"required": ["file_url"], "properties": {"file_url": {"minLength": 1}}}
  ],
  "properties": {
    "receiver_id": {"type": "string", "minLength": 1},
    "content": {"type": "string", "maxLength": 10000},
    "file_url": {"type": "string", "maxLength": 512}
  }
}`

const adminCreateSchema = `{
  "type": "object",
  "required": ["email", "password", "role"],
  "properties": {
    "email": {"type": "string", "format": "email"},
    "password": {"type": "string", "minLength": 6, "maxLength": 72},
    "full_name": {"type": "string", "maxLength": 120},
    "role": {"type": "string", "enum": ["user", "assist", "super_admin"]}
  }
}`

func init() {
	Register(FormSignUp, MustCompile(signUpSchema))
	Register(FormSignIn, MustCompile(signInSchema))
	Register(FormOnboarding, MustCompile(onboardingSchema))
	Register(FormMessage, MustCompile(messageSchema))
	Register(FormAdminCreate, MustCompile(adminCreateSchema))
}
