package flow

// Role is the marketplace side a form is filled for.
type Role string

const (
	RoleClient Role = "client"
	RoleDriver Role = "driver"
)

// Lang is a UI language.
type Lang string

const (
	LangRU Lang = "ru"
	LangKZ Lang = "kz"
)

// Messages are the user-facing strings of one role in one language.
type Messages struct {
	FillAllFields  string
	MinPrice       string
	SelectTruck    string
	SelectPoints   string
	DepartureTime  string
	Contact        string
	Error          string
	RequestCreated string
}

// RoleConfig is everything that differs between the client and driver flows.
type RoleConfig struct {
	Role                 Role
	Endpoint             string
	MinPrice             int
	RequireTruckType     bool
	RequireDepartureTime bool
	Messages             map[Lang]Messages
}

// TruckTypes are the accepted truck type values.
var TruckTypes = map[string]bool{
	"small":        true,
	"medium":       true,
	"large":        true,
	"refrigerator": true,
	"tow":          true,
}

var requestMessages = map[Lang]Messages{
	LangRU: {
		FillAllFields:  "Заполните все обязательные поля",
		MinPrice:       "Минимальная цена 2000 ₸",
		SelectTruck:    "Выберите тип транспорта",
		SelectPoints:   "Выберите точку на карте",
		DepartureTime:  "Укажите время отправления",
		Contact:        "Укажите контактный номер",
		Error:          "Ошибка",
		RequestCreated: "Заявка создана!",
	},
	LangKZ: {
		FillAllFields:  "Барлық міндетті өрістерді толтырыңыз",
		MinPrice:       "Минималды баға 2000 ₸",
		SelectTruck:    "Көлік түрін таңдаңыз",
		SelectPoints:   "Картадан нүктені таңдаңыз",
		DepartureTime:  "Жөнелу уақытын көрсетіңіз",
		Contact:        "Байланыс нөмірін көрсетіңіз",
		Error:          "Қате",
		RequestCreated: "Өтінім жасалды!",
	},
}

// Roles is the role table shared by every flow.
var Roles = map[Role]RoleConfig{
	RoleClient: {
		Role:             RoleClient,
		Endpoint:         "/api/client/request",
		MinPrice:         2000,
		RequireTruckType: true,
		Messages:         requestMessages,
	},
	RoleDriver: {
		Role:                 RoleDriver,
		Endpoint:             "/api/driver/request",
		MinPrice:             2000,
		RequireDepartureTime: true,
		Messages:             requestMessages,
	},
}

// MessagesFor returns the strings for lang, defaulting to Russian.
func (c RoleConfig) MessagesFor(lang Lang) Messages {
	if m, ok := c.Messages[lang]; ok {
		return m
	}
	return c.Messages[LangRU]
}
