package koanf

type Postgres struct {
	Host     string `json:"host,omitempty" koanf:"host"`
	Port     string `json:"port,omitempty" koanf:"port"`
	DB       string `json:"db,omitempty" koanf:"db"`
	Username string `json:"username,omitempty" koanf:"username"`
	Password string `json:"password,omitempty" koanf:"password"`
	SSLMode  string `json:"ssl_mode,omitempty" koanf:"ssl_mode"`
}

type NATS struct {
	URL string `json:"url,omitempty" koanf:"url"`
}

type HttpServer struct {
	Address string `json:"address,omitempty" koanf:"address"`
}

type Prometheus struct {
	PushAddress string `json:"push_address,omitempty" koanf:"push_address"`
}

type Jaeger struct {
	AgentHost   string `json:"agent_host,omitempty" koanf:"agent_host"`
	ServiceName string `json:"service_name,omitempty" koanf:"service_name"`
}
