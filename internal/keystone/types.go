package keystone

type authRequest struct {
	Auth struct {
		Identity identity `json:"identity"`
		Scope    *scope   `json:"scope,omitempty"`
	} `json:"auth"`
}

type identity struct {
	Methods  []string        `json:"methods"`
	Password *passwordMethod `json:"password,omitempty"`
	Token    *tokenMethod    `json:"token,omitempty"`
}

type passwordMethod struct {
	User passwordUser `json:"user"`
}

type passwordUser struct {
	ID       string `json:"id"`
	Password string `json:"password"`
}

type tokenMethod struct {
	ID string `json:"id"`
}

type scope struct {
	Project *projectScope `json:"project,omitempty"`
}

type projectScope struct {
	Name   string    `json:"name"`
	Domain domainRef `json:"domain"`
}

type domainRef struct {
	ID string `json:"id"`
}

type changePasswordRequest struct {
	User changePasswordUser `json:"user"`
}

type changePasswordUser struct {
	Password         string `json:"password"`
	OriginalPassword string `json:"original_password"`
}
